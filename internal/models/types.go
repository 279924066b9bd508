package models

type TaskStatus string

const (
	TaskStatusDone    TaskStatus = "done"
	TaskStatusCurrent TaskStatus = "current"
	TaskStatusPending TaskStatus = "pending"
)
