package domain

import "errors"

var ErrAccountNotFound = errors.New("account not found or inactive")
