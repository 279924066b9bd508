package models

type Task struct {
	ID          int
	Name        string
	Description string
	URL         string
	ButtonText  string
}

type Campaign struct {
	Title  string
	Reward string
}
