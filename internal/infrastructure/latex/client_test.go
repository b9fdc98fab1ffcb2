package latex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWrapDocument(t *testing.T) {
	doc, err := WrapDocument(`E = mc^2`, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`\documentclass{article}`,
		`\usepackage{amsmath, amssymb}`,
		`\usepackage[utf8]{inputenc}`,
		`\pagestyle{empty}`,
		`\[ E = mc^2 \]`,
		`\end{document}`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q:\n%s", want, doc)
		}
	}

	plain, err := WrapDocument(`Hello {{world}}`, false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(plain, `\[`) || !strings.Contains(plain, "\nHello {{world}}\n") {
		t.Errorf("fragment should be inserted verbatim without delimiters:\n%s", plain)
	}
}

func TestClientCompileSuccess(t *testing.T) {
	var got buildRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/builds/sync" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.5 fake"))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", DisplayMath: true}, srv.Client())
	artifact, err := client.Compile(context.Background(), `\alpha + \beta`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if string(artifact) != "%PDF-1.5 fake" {
		t.Fatalf("artifact = %q", artifact)
	}

	if got.Compiler != "pdflatex" || len(got.Resources) != 1 || !got.Resources[0].Main {
		t.Fatalf("request = %+v", got)
	}
	if !strings.Contains(got.Resources[0].Content, `\[ \alpha + \beta \]`) {
		t.Fatalf("fragment not wrapped: %s", got.Resources[0].Content)
	}
}

func TestClientCompileFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		cfg        Config
		wantStatus int
		wantDiag   string
	}{
		{
			name: "compile error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("! Undefined control sequence.\x00"))
			},
			wantStatus: http.StatusBadRequest,
			wantDiag:   "! Undefined control sequence.",
		},
		{
			name: "diagnostic truncated and redacted",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("token s3cr3t-token " + strings.Repeat("x", 100)))
			},
			cfg:        Config{MaxDiagnosticBytes: 20, Secrets: []string{"s3cr3t-token"}},
			wantStatus: http.StatusInternalServerError,
			wantDiag:   "token [REDACTED] xxx...(truncated)",
		},
		{
			name: "artifact too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(strings.Repeat("p", 64)))
			},
			cfg:        Config{MaxArtifactBytes: 16},
			wantStatus: http.StatusOK,
			wantDiag:   "artifact exceeds 16 bytes",
		},
		{
			name: "empty artifact",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantStatus: http.StatusOK,
			wantDiag:   "empty artifact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			cfg := tt.cfg
			cfg.BaseURL = srv.URL
			_, err := NewClient(cfg, srv.Client()).Compile(context.Background(), "x")

			var be *BuildError
			if !errors.As(err, &be) {
				t.Fatalf("err = %v, want *BuildError", err)
			}
			if be.StatusCode != tt.wantStatus || be.Diagnostic != tt.wantDiag {
				t.Fatalf("BuildError = {%d %q}, want {%d %q}", be.StatusCode, be.Diagnostic, tt.wantStatus, tt.wantDiag)
			}
		})
	}
}

func TestClientCompileTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: url}, nil).Compile(context.Background(), "x")
	var be *BuildError
	if !errors.As(err, &be) || be.StatusCode != 0 || be.Err == nil {
		t.Fatalf("err = %#v", err)
	}
}

func TestClientCompileHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(Config{BaseURL: srv.URL}, srv.Client()).Compile(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
