package usecase

import "fmt"

// ErrPersistence indicates an infrastructure/repository failure inside a use case
var ErrPersistence = fmt.Errorf("chat use case persistence error")

// ErrProvider indicates the messaging provider rejected or failed a call
var ErrProvider = fmt.Errorf("chat use case provider error")
