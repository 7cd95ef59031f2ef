package models

import (
	"errors"
	"testing"
)

func newUserModel(t *testing.T) *UserModel {
	t.Helper()
	m := &UserModel{DB: newTestDB(t)}
	if err := m.CreateTable(); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return m
}

func TestUserAuthenticate(t *testing.T) {
	m := newUserModel(t)

	if err := m.Insert("admin", "admin@example.com", "pa55word-long", true); err != nil {
		t.Fatalf("insert: %v", err)
	}

	id, err := m.Authenticate("admin@example.com", "pa55word-long")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero id")
	}

	_, err = m.Authenticate("admin@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}

	_, err = m.Authenticate("nobody@example.com", "pa55word-long")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestUserDuplicateEmail(t *testing.T) {
	m := newUserModel(t)

	if err := m.Insert("a", "a@example.com", "secret-secret", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := m.Insert("b", "a@example.com", "secret-secret", false)
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("got %v, want ErrDuplicateEmail", err)
	}
}

func TestUserExists(t *testing.T) {
	m := newUserModel(t)

	ok, err := m.AdminExists()
	if err != nil || ok {
		t.Fatalf("AdminExists on empty table: got (%v, %v)", ok, err)
	}

	if err := m.Insert("admin", "admin@example.com", "secret-secret", true); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err = m.AdminExists()
	if err != nil || !ok {
		t.Errorf("AdminExists: got (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = m.Exists(1)
	if err != nil || !ok {
		t.Errorf("Exists(1): got (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = m.Exists(42)
	if err != nil || ok {
		t.Errorf("Exists(42): got (%v, %v), want (false, nil)", ok, err)
	}
}
