package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// 网关错误分类。调用方用 errors.Is 判断，不吞掉任何持久化错误。
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrAuthDenied   = errors.New("auth denied")
)

// classify 将底层 pgx 错误映射到网关错误分类
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Join(ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return errors.Join(ErrConflict, err)
		case strings.HasPrefix(pgErr.Code, "22"), // data exception
			strings.HasPrefix(pgErr.Code, "23"): // integrity constraint
			return errors.Join(ErrInvalidInput, err)
		}
	}
	return err
}

// isTransient 可重试的瞬态错误：死锁、序列化失败、连接异常
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		if strings.HasPrefix(pgErr.Code, "08") { // connection exception
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// withRetry 瞬态错误指数退避重试，最多 3 次尝试
func withRetry(ctx context.Context, fn func() error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) && attempts < 3 {
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(op, bo)
}
