package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest written next to config.yaml by "config lock".
const ChecksumFile = ".checksums"

// ChecksumManifest records the approved BLAKE3 hash of each config file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// IntegrityResult is the outcome of VerifyIntegrity. Errors mean the config
// changed since it was locked; warnings mean it was never locked.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func checksumPath(configFile string) string {
	return filepath.Join(filepath.Dir(configFile), ChecksumFile)
}

// Lock hashes the config file at configPath and writes the manifest beside it.
// It returns the manifest path.
func Lock(configPath string) (string, error) {
	file, err := ResolvePath(configPath)
	if err != nil {
		return "", err
	}
	hash, err := ComputeBlake3Hash(file)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", file, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(file): hash},
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}

	out := checksumPath(file)
	// The config may carry an API token, so the manifest stays private too.
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return out, nil
}

// LoadChecksums reads the manifest that belongs to configFile.
func LoadChecksums(configFile string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(checksumPath(configFile))
	if err != nil {
		return nil, err
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyIntegrity checks the config file at configPath against its manifest.
func VerifyIntegrity(configPath string) (*IntegrityResult, error) {
	file, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}
	result := &IntegrityResult{Passed: true}

	manifest, err := LoadChecksums(file)
	if os.IsNotExist(err) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no %s manifest next to %s; run 'zonectl config lock' to enable integrity verification", ChecksumFile, file))
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	name := filepath.Base(file)
	expected, ok := manifest.Hashes[name]
	if !ok {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s is not in the %s manifest", name, ChecksumFile))
		return result, nil
	}

	actual, err := ComputeBlake3Hash(file)
	if err != nil {
		return nil, err
	}
	if actual != expected {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s changed since it was locked (expected %s, got %s); run 'zonectl config lock' if the edit was intended", name, expected, actual))
	}
	return result, nil
}
