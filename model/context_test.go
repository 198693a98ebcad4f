package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      *RequestContext
		wantErr bool
	}{
		{
			name: "valid context",
			rc: &RequestContext{
				SessionID: "sess-1",
				Tenant:    "acme",
			},
			wantErr: false,
		},
		{
			name: "missing SessionID",
			rc: &RequestContext{
				Tenant: "acme",
			},
			wantErr: true,
		},
		{
			name: "missing Tenant",
			rc: &RequestContext{
				SessionID: "sess-1",
			},
			wantErr: true,
		},
		{
			name:    "missing both",
			rc:      &RequestContext{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithRequestContext_and_RequestContextFrom(t *testing.T) {
	rctx := &RequestContext{
		SessionID: "sess-1",
		Tenant:    "acme",
	}
	ctx := WithRequestContext(context.Background(), rctx)
	got := RequestContextFrom(ctx)
	if got != rctx {
		t.Errorf("RequestContextFrom() = %v, want %v", got, rctx)
	}
}

func TestRequestContextFrom_absent(t *testing.T) {
	got := RequestContextFrom(context.Background())
	if got != nil {
		t.Errorf("RequestContextFrom(empty context) = %v, want nil", got)
	}
}

func TestMustRequestContext_present(t *testing.T) {
	rctx := &RequestContext{
		SessionID: "sess-1",
		Tenant:    "acme",
	}
	ctx := WithRequestContext(context.Background(), rctx)
	got := MustRequestContext(ctx)
	if got != rctx {
		t.Errorf("MustRequestContext() = %v, want %v", got, rctx)
	}
}

func TestMustRequestContext_absent_panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustRequestContext(empty context) did not panic")
		}
	}()
	MustRequestContext(context.Background())
}
