package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantMarker string
		wantBody   string
		wantErr    bool
	}{
		{
			name:       "valid",
			query:      "--sql 6ffe759c-32f3-4a71-9030-8373f111756c\nselect 1;\n",
			wantMarker: "6ffe759c-32f3-4a71-9030-8373f111756c",
			wantBody:   "select 1;",
		},
		{name: "missing marker", query: "select 1;", wantErr: true},
		{name: "uppercase uuid rejected", query: "--sql 6FFE759C-32F3-4A71-9030-8373F111756C\nselect 1;", wantErr: true},
		{name: "empty", query: "   ", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			marker, body, err := extractMarker(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if marker != tc.wantMarker || body != tc.wantBody {
				t.Fatalf("extractMarker() = (%q, %q)", marker, body)
			}
		})
	}
}

func TestSQLRunnerRejectsUnmarkedQueries(t *testing.T) {
	r := NewSQLRunner(nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := r.Exec(ctx, "delete from video_jobs"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("Exec error = %v", err)
	}
	if _, err := r.Query(ctx, "select 1"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("Query error = %v", err)
	}
	var n int
	if err := r.QueryRow(ctx, "select 1").Scan(&n); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("QueryRow error = %v", err)
	}
}
