package main

import (
	"encoding/json"
	"errors"
	"testing"

	"pipettor/internal/config"
	"pipettor/internal/rotation"
)

func TestRotationRecordAndShow(t *testing.T) {
	env := setupCLITestEnv(t, config.RotationBackendSQLite)

	out, _, err := runCLI(t, []string{"rotation", "next"}, env.configPath)
	if err != nil {
		t.Fatalf("rotation next: %v", err)
	}
	requireContains(t, out, "0 (first primer column A1)")

	out, _, err = runCLI(t, []string{"rotation", "record", "11"}, env.configPath)
	if err != nil {
		t.Fatalf("rotation record: %v", err)
	}
	requireContains(t, out, "next run uses 0")

	if _, _, err := runCLI(t, []string{"rotation", "record", "4"}, env.configPath); err != nil {
		t.Fatalf("rotation record: %v", err)
	}

	out, _, err = runCLI(t, []string{"rotation", "show", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("rotation show: %v", err)
	}
	var view rotationView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode rotation view: %v\n%s", err, out)
	}
	if view.Next != 5 || view.Columns[0] != "A6" || view.Columns[11] != "A5" {
		t.Fatalf("unexpected next rotation %+v", view)
	}
	if len(view.History) != 2 || view.History[0].Index != 4 || view.History[1].Index != 11 {
		t.Fatalf("unexpected history %+v", view.History)
	}
}

func TestRotationRecordRejectsOutOfRange(t *testing.T) {
	env := setupCLITestEnv(t, config.RotationBackendFile)
	_, _, err := runCLI(t, []string{"rotation", "record", "12"}, env.configPath)
	if !errors.Is(err, rotation.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}
