package models

import "testing"

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestBaseModelBeforeCreateKeepsExplicitID(t *testing.T) {
	base := BaseModel{ID: "content-1"}
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID != "content-1" {
		t.Fatalf("expected explicit ID to be preserved, got %q", base.ID)
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"content", func() *BaseModel {
			c := &Content{}
			return &c.BaseModel
		}},
		{"notification", func() *BaseModel {
			n := &Notification{}
			return &n.BaseModel
		}},
		{"like", func() *BaseModel {
			l := &Like{}
			return &l.BaseModel
		}},
		{"comment", func() *BaseModel {
			c := &Comment{}
			return &c.BaseModel
		}},
		{"save", func() *BaseModel {
			s := &Save{}
			return &s.BaseModel
		}},
		{"share", func() *BaseModel {
			s := &Share{}
			return &s.BaseModel
		}},
		{"follow", func() *BaseModel {
			f := &Follow{}
			return &f.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := tc.model()
			if err := base.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if base.ID == "" {
				t.Fatalf("expected %s ID to be generated", tc.name)
			}
		})
	}
}

func TestAuditLogBeforeCreateGeneratesID(t *testing.T) {
	entry := &AuditLog{}
	if err := entry.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected audit log ID to be generated")
	}
}
