// Package testsupport holds shared fixtures for package tests: temp-dir
// configs, stub binaries, and fake video decoders and encoders.
package testsupport
