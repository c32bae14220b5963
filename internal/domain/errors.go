package domain

import (
	"errors"
	"fmt"
)

// 错误分类。具体错误都包装其中一个分类，调用方用 errors.Is 判断。
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrCapacity   = errors.New("capacity exceeded")
	ErrParse      = errors.New("parse error")
	ErrStorage    = errors.New("storage error")
)

// 具体错误
var (
	ErrAddressRequired   = classify(ErrValidation, "address is required")
	ErrRecipientRequired = classify(ErrValidation, "recipient is required")
	ErrSenderRequired    = classify(ErrValidation, "sender is required")
	ErrInvalidAddress    = classify(ErrValidation, "invalid email address")
	ErrDomainNotServed   = classify(ErrValidation, "domain is not served")
	ErrUsernameTooShort  = classify(ErrValidation, "username must be at least 3 characters")
	ErrUsernameTooLong   = classify(ErrValidation, "username must be less than 30 characters")

	ErrInboxNotFound   = classify(ErrNotFound, "inbox not found")
	ErrMessageNotFound = classify(ErrNotFound, "message not found")
	ErrNotInTrash      = classify(ErrNotFound, "message not found in trash")

	ErrAddressTaken  = classify(ErrConflict, "address already registered")
	ErrUsernameTaken = classify(ErrConflict, "username is already taken")

	ErrAlreadyMaxed = classify(ErrCapacity, "inbox already at maximum lifetime")
)

type classifiedError struct {
	class error
	msg   string
}

func classify(class error, msg string) error {
	return &classifiedError{class: class, msg: msg}
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }

// StorageFailure 把底层存储错误标记为 ErrStorage，同时保留原始错误链。
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}

// ParseFailure 把邮件解析错误标记为 ErrParse。
func ParseFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrParse, err)
}
