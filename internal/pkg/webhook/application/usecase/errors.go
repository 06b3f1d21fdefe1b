package usecase

import "fmt"

// ErrPersistence indicates a repository failure while processing a webhook item
var ErrPersistence = fmt.Errorf("webhook use case persistence error")
