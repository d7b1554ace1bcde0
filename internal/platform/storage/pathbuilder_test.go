package storage

import (
	"strings"
	"testing"
	"time"
)

func TestBuildOrderPhotoPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeOrderPhoto, PathParams{
		ObjectID:  "01hzx3t5v3k8q9m2n4p6r8s0tw",
		Extension: ".JPG",
		At:        time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/photos/2025/03/01hzx3t5v3k8q9m2n4p6r8s0tw.jpg"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildOrderPhotoPathGeneratesObjectID(t *testing.T) {
	at := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	first, err := BuildObjectPath(PurposeOrderPhoto, PathParams{Extension: "png", At: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildObjectPath(PurposeOrderPhoto, PathParams{Extension: "png", At: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected unique object names, got %s twice", first)
	}
	if !strings.HasPrefix(first, "orders/photos/2025/03/") || !strings.HasSuffix(first, ".png") {
		t.Fatalf("unexpected path layout %s", first)
	}
	if first > second {
		t.Fatalf("expected monotonically increasing ids: %s > %s", first, second)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeOrderPhoto, PathParams{ObjectID: "../bad", Extension: "png"})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
	if _, err := BuildObjectPath(AssetPurpose("unknown"), PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
