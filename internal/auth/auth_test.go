package auth

import (
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword(hash, "s3cret-pass") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatal("wrong password accepted")
	}
}

func TestSignAndParseJWT(t *testing.T) {
	token, err := SignJWT(42, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	userID, err := ParseJWT(token, "test-secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if userID != 42 {
		t.Fatalf("user id = %d, want 42", userID)
	}

	if _, err := ParseJWT(token, "other-secret"); err == nil {
		t.Fatal("token verified with wrong secret")
	}
}

func TestParseJWT_Expired(t *testing.T) {
	token, err := SignJWT(7, "test-secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "test-secret"); err == nil {
		t.Fatal("expired token accepted")
	}
}
