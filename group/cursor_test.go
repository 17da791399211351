// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package group

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCursorMonotonicity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	// The stored value is the maximum of everything saved, regardless
	// of order.
	for _, v := range []int64{5, 3, 9, 1, 9, 7} {
		if err := store.SaveMsgCursor("g1", v); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SaveEventCursor("g1", 4); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEventCursor("g1", 2); err != nil {
		t.Fatal(err)
	}

	msg, event, err := store.LoadCursor("g1")
	if err != nil {
		t.Fatal(err)
	}
	if msg != 9 || event != 4 {
		t.Errorf("cursor = (%d, %d), want (9, 4)", msg, event)
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// A reopened store reports the same values.
	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	msg, event, err = reopened.LoadCursor("g1")
	if err != nil {
		t.Fatal(err)
	}
	if msg != 9 || event != 4 {
		t.Errorf("reopened cursor = (%d, %d), want (9, 4)", msg, event)
	}
}

func TestCursorUnknownGroupIsZero(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "cursors.json"))
	if err != nil {
		t.Fatal(err)
	}
	msg, event, err := store.LoadCursor("never-seen")
	if err != nil {
		t.Fatal(err)
	}
	if msg != 0 || event != 0 {
		t.Errorf("cursor = (%d, %d), want (0, 0)", msg, event)
	}
}

func TestCursorRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveMsgCursor("g1", 10); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveCursor("g1"); err != nil {
		t.Fatal(err)
	}
	msg, _, err := store.LoadCursor("g1")
	if err != nil {
		t.Fatal(err)
	}
	if msg != 0 {
		t.Errorf("cursor after remove = %d", msg)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCursorFlushOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing saved: Flush writes no file.
	if err := store.Flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Flush wrote a file with no changes")
	}

	if err := store.SaveMsgCursor("g1", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Flush(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	// A clean Flush leaves the file untouched; saving a lower value
	// does not dirty the store.
	if err := store.SaveMsgCursor("g1", 0); err != nil {
		t.Fatal(err)
	}
	if err := store.Flush(); err != nil {
		t.Fatal(err)
	}
	again, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !again.ModTime().Equal(info.ModTime()) && again.Size() != info.Size() {
		t.Error("clean flush rewrote the file")
	}

	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCursorConcurrentSaves(t *testing.T) {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "cursors.json"))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_ = store.SaveMsgCursor("g1", v)
			_ = store.SaveEventCursor("g1", v)
		}(i)
	}
	wg.Wait()
	msg, event, err := store.LoadCursor("g1")
	if err != nil {
		t.Fatal(err)
	}
	if msg != 50 || event != 50 {
		t.Errorf("cursor = (%d, %d), want (50, 50)", msg, event)
	}
}

func TestCursorRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileStore(path); err == nil {
		t.Error("corrupt cursor file accepted")
	}
}
