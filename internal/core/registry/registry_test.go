package registry

import (
	"context"
	"sort"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type processorStub struct{ name string }

func (p *processorStub) ProcessFile(context.Context, domain.ProcessRequest, domain.Options) (domain.Result, error) {
	return domain.Result{}, nil
}

func (p *processorStub) GetStatus(context.Context, string) (domain.JobStatus, error) {
	return domain.StatusPending, nil
}

func (p *processorStub) Cancel(context.Context, string) (bool, error) { return false, nil }

func (p *processorStub) Retry(context.Context, string) (domain.Result, error) {
	return domain.Result{}, nil
}

func (p *processorStub) BatchProcess(context.Context, []domain.ProcessRequest, domain.Options) ([]domain.Result, domain.BatchSummary, error) {
	return nil, domain.BatchSummary{}, nil
}

var _ ports.Processor = (*processorStub)(nil)

func TestFirstRegisteredBecomesDefault(t *testing.T) {
	reg := New()
	first := &processorStub{name: "first"}
	second := &processorStub{name: "second"}
	if err := reg.Register("first", first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("second", second); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := reg.Get("")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if got != ports.Processor(first) {
		t.Fatalf("expected first registered processor as default")
	}
}

func TestGetUnknownProcessor(t *testing.T) {
	reg := New()
	if err := reg.Register("standard", &processorStub{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := reg.Get("missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrProcessorNotFound) {
		t.Fatalf("expected ErrProcessorNotFound, got %v", err)
	}
}

func TestReRegisterReplacesProcessor(t *testing.T) {
	reg := New()
	first := &processorStub{name: "first"}
	second := &processorStub{name: "second"}
	if err := reg.Register("standard", first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("standard", second); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	got, err := reg.Get("standard")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != ports.Processor(second) {
		t.Fatalf("expected re-registration to replace the processor")
	}
	if names := reg.Names(); len(names) != 1 {
		t.Fatalf("expected a single name after re-registration, got %v", names)
	}
}

func TestRegisterRejectsBadArguments(t *testing.T) {
	reg := New()
	if err := reg.Register("  ", &processorStub{}); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := reg.Register("standard", nil); err == nil {
		t.Fatalf("expected error for nil processor")
	}
}

func TestSetDefaultAndNames(t *testing.T) {
	reg := New()
	_ = reg.Register("standard", &processorStub{})
	_ = reg.Register("reference", &processorStub{})
	if err := reg.SetDefault("reference"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := reg.SetDefault("absent"); err == nil {
		t.Fatalf("expected error for unknown default")
	}
	names := reg.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "reference" || names[1] != "standard" {
		t.Fatalf("unexpected names %v", names)
	}
}
