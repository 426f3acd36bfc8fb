/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	config := &Config{
		Level:  "debug",
		Debug:  true,
		Output: "stdout",
	}

	log, err := NewLogger(context.Background(), config)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if log == nil {
		t.Fatal("NewLogger returned nil")
	}

	if log.Debug() == nil {
		t.Error("Debug event should not be nil")
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	config := &Config{
		Level:  "shouting",
		Output: "stdout",
	}

	if _, err := NewLogger(context.Background(), config); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestNewLoggerNilConfig(t *testing.T) {
	log, err := NewLogger(context.Background(), nil)
	if err != nil {
		t.Fatalf("Failed to create logger with nil config: %v", err)
	}

	if log == nil {
		t.Fatal("NewLogger returned nil for nil config")
	}
}

func TestNewComponentLogger(t *testing.T) {
	log, err := NewComponentLogger(context.Background(), "test-component", &Config{Level: "info", Output: "stderr"})
	if err != nil {
		t.Fatalf("Failed to create component logger: %v", err)
	}

	if log == nil {
		t.Fatal("NewComponentLogger returned nil")
	}
}

func TestSetDebug(t *testing.T) {
	log, err := NewLogger(context.Background(), &Config{Level: "info", Output: "stdout"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	impl := log.(*loggerImpl)

	log.SetDebug(true)

	if impl.logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level after SetDebug(true), got %v", impl.logger.GetLevel())
	}

	log.SetDebug(false)

	if impl.logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level after SetDebug(false), got %v", impl.logger.GetLevel())
	}
}

func TestWithComponent(t *testing.T) {
	log, err := NewLogger(context.Background(), &Config{Level: "info", Output: "stdout"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	componentLogger := log.WithComponent("test-component")

	if componentLogger.GetLevel() == zerolog.Disabled {
		t.Error("Component logger should not be disabled")
	}
}

func TestNewBootstrapLogger(t *testing.T) {
	log := NewBootstrapLogger()
	if log == nil {
		t.Fatal("NewBootstrapLogger returned nil")
	}

	impl := log.(*loggerImpl)
	if impl.logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("Expected warn level, got %v", impl.logger.GetLevel())
	}
}

func TestNewTestLogger(t *testing.T) {
	log := NewTestLogger()

	if log == nil {
		t.Fatal("NewTestLogger returned nil")
	}

	// Must be safe to use without panicking.
	log.Info().Str("key", "value").Msg("discarded")
	log.Error().Msg("also discarded")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Level == "" {
		t.Error("Default config should have a level set")
	}

	if config.Output == "" {
		t.Error("Default config should have an output set")
	}
}
