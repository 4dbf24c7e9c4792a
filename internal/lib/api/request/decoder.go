package request

import (
	"fmt"
	"net/http"
)

type Binder interface {
	Bind(r *http.Request) error
}

// DecodeAndValidateData unmarshals req.Data into target and runs its Bind
// validation when target implements Binder.
func DecodeAndValidateData[T any](req *Request, httpReq *http.Request, target *T) error {
	if err := req.UnmarshalData(target); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if binder, ok := any(target).(Binder); ok {
		if err := binder.Bind(httpReq); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}
