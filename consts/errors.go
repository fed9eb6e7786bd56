package consts

import "errors"

var (
	ErrNoSuchMessage = errors.New("no such message")

	ErrDBBeginTransactionFailed = errors.New("start transaction failed")
	ErrDBInsertFailed           = errors.New("insert failed")
)
