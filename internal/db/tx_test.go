package db

import (
	"context"
	"errors"
	"testing"
)

func TestAfterCommit_RunsOnlyAfterCommit(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	var ran []string
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = append(ran, "first") })
		AfterCommit(ctx, func() { ran = append(ran, "second") })
		if len(ran) != 0 {
			t.Error("hook ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Errorf("hooks = %v", ran)
	}
}

func TestAfterCommit_DroppedOnRollback(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ran := false
	_ = s.WithinTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return errors.New("abort")
	})
	if ran {
		t.Error("hook ran for a rolled-back transaction")
	}
}

func TestAfterCommit_CommitFailureDropsHooks(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	ran := false
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return nil
	})
	if err == nil {
		t.Fatal("want commit error")
	}
	if ran {
		t.Error("hook ran although commit failed")
	}
}

func TestAfterCommit_OutsideUnitRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Error("hook outside a unit should run immediately")
	}
}

func TestStartUnit_NilTx(t *testing.T) {
	ctx, u := StartUnit(context.Background(), nil)
	if !InUnit(ctx) {
		t.Error("InUnit should be true")
	}
	if _, ok := TxFrom(ctx); ok {
		t.Error("TxFrom should be false for a unit without SQL transaction")
	}
	ran := false
	AfterCommit(ctx, func() { ran = true })
	u.Committed()
	if !ran {
		t.Error("Committed did not run hook")
	}
}
