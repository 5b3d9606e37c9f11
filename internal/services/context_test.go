package services_test

import (
	"context"
	"testing"

	"mriprep/internal/services"
)

func TestContextLabelsRoundTrip(t *testing.T) {
	ctx := services.WithRunID(services.WithStage(services.WithSubject(context.Background(), "sub-07"), "segmentation"), "b81c")

	cases := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"subject", services.SubjectFromContext, "sub-07"},
		{"stage", services.StageFromContext, "segmentation"},
		{"run id", services.RunIDFromContext, "b81c"},
	}
	for _, tc := range cases {
		got, ok := tc.get(ctx)
		if !ok || got != tc.want {
			t.Fatalf("%s: got %q (%v), want %q", tc.name, got, ok, tc.want)
		}
	}
}

func TestBlankLabelsAreIgnored(t *testing.T) {
	base := services.WithSubject(context.Background(), "sub-01")
	ctx := services.WithSubject(services.WithStage(base, ""), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("blank stage must not be recorded")
	}
	if subject, _ := services.SubjectFromContext(ctx); subject != "sub-01" {
		t.Fatalf("blank subject overwrote %q", subject)
	}
	if _, ok := services.RunIDFromContext(context.Background()); ok {
		t.Fatal("expected no run id on a bare context")
	}
}
