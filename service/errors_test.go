package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"
)

func TestRetriable(t *testing.T) {
	i := 0
	ctx := context.Background()
	tim := time.Now()
	err := Retriable(ctx, func() error {
		i++
		return fmt.Errorf("%d", i)
	}, time.Microsecond, 3)

	if time.Since(tim) < 3*time.Microsecond {
		t.Errorf("err: excepted at least 3µs got %v", time.Since(tim))
	}

	if err == nil {
		t.Error("err: excepted 3 got nil")
	}
	if err.Error() != "3" {
		t.Error("err: excepted 3 got " + err.Error())
	}
}

func TestRetriableSuccess(t *testing.T) {
	i := 0
	err := Retriable(context.Background(), func() error {
		i++
		if i < 2 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, time.Microsecond, 5)
	if err != nil || i != 2 {
		t.Errorf("expected success after 2 tries, got %d tries (%v)", i, err)
	}
}

func TestPermanent(t *testing.T) {
	err := fmt.Errorf("Permanent error")
	if Temporary(err) {
		t.Fail()
	}
	err = &url.Error{Err: err}
	if Temporary(err) {
		t.Fail()
	}
}

func TestTemporary(t *testing.T) {
	err := MakeTemporary(fmt.Errorf("Temporary error"))
	if !Temporary(err) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", err)
	if !Temporary(err) {
		t.Fail()
	}
	if !Temporary(context.Canceled) {
		t.Fail()
	}
	err = fmt.Errorf("Warp: %w", &url.Error{Err: err})
	if !Temporary(err) {
		t.Fail()
	}
}

func TestConfigurationError(t *testing.T) {
	err := fmt.Errorf("Run.%w", MakeConfigurationError(fmt.Errorf("unsupported block size: 256")))
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected a configuration error")
	}
	if !Fatal(err) {
		t.Error("a configuration error must be fatal")
	}
}

func TestOperationError(t *testing.T) {
	cause := ErrFileNotFound{File: "s3://ewoc-prd/p/blocks"}
	err := fmt.Errorf("main: %w", &OperationError{Op: "upload", Tile: "31TCJ", ProductionID: "p_1_2", Err: cause})
	if err.Error() != "main: upload[p_1_2/31TCJ]: File not found: s3://ewoc-prd/p/blocks" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	var operr *OperationError
	if !errors.As(err, &operr) || operr.Tile != "31TCJ" {
		t.Error("expected an OperationError")
	}
	if !errors.As(err, &ErrFileNotFound{}) {
		t.Error("expected the cause to be found")
	}
}
