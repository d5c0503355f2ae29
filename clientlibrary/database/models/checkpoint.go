package models

import "time"

type Checkpoint struct {
	Collection        string
	PartitionID       string
	ContinuationToken string
	UpdatedAt         time.Time
}
