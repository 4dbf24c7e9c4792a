package entity

import "time"

// ArchivedDocument keeps every payload emitted under one external id.
type ArchivedDocument struct {
	CreationDate time.Time `json:"creation_date" bson:"creation_date"`
	ExternalId   string    `json:"external_id" bson:"external_id"`
	Versions     []Version `json:"versions" bson:"versions"`
}

type Version struct {
	ID           string    `json:"id" bson:"id"`
	Action       string    `json:"action" bson:"action"`
	CreationDate time.Time `json:"creation_date" bson:"creation_date"`
	Payload      string    `json:"payload" bson:"payload"`
}
