// Package testutil holds fixtures shared by package tests.
package testutil

// Test key material for use in tests only.
const (
	TestSigningKey = "test-signing-key-1234567890123456"
	TestSalt       = "dcp_eval_salt"
)

// SampleText contains one email address at bytes 9..16.
const SampleText = "Contact: a@b.com"
