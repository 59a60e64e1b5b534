package websocket

import "testing"

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	if cfg.Address != "127.0.0.1" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if cfg.MaxMessageSize != 65536 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.ConnectionBufferSize != 4096 {
		t.Errorf("ConnectionBufferSize = %d", cfg.ConnectionBufferSize)
	}
	if cfg.Handshake.MaxSize != 1024 || cfg.Handshake.MaxHeaders != 10 || cfg.Handshake.PoolCount != 32 {
		t.Errorf("Handshake defaults = %+v", cfg.Handshake)
	}
	if cfg.LargeBuffers.Count != 8 {
		t.Errorf("LargeBuffers.Count = %d", cfg.LargeBuffers.Count)
	}
	if cfg.LargeBuffers.Size != int(cfg.MaxMessageSize) {
		t.Errorf("LargeBuffers.Size = %d, want %d (capped at MaxMessageSize)", cfg.LargeBuffers.Size, cfg.MaxMessageSize)
	}
	if cfg.ThreadPool.Count != defaultThreadPoolCount {
		t.Errorf("ThreadPool.Count = %d", cfg.ThreadPool.Count)
	}
	if cfg.ThreadPool.Backlog != 500 {
		t.Errorf("ThreadPool.Backlog = %d", cfg.ThreadPool.Backlog)
	}
	if cfg.ThreadPool.BufferSize != 32768 {
		t.Errorf("ThreadPool.BufferSize = %d", cfg.ThreadPool.BufferSize)
	}
	if cfg.Logger == nil {
		t.Errorf("Logger not defaulted")
	}
	if !cfg.Shutdown.CloseSocket || !cfg.Shutdown.NotifyClient || !cfg.Shutdown.NotifyHandler {
		t.Errorf("Shutdown defaults = %+v", cfg.Shutdown)
	}
}

func TestConfig_WithDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Port:                 9999,
		Address:              "0.0.0.0",
		MaxMessageSize:       1024,
		ConnectionBufferSize: 512,
		Shutdown:             ShutdownConfig{CloseSocket: true},
	}.WithDefaults()

	if cfg.Address != "0.0.0.0" {
		t.Errorf("Address overridden: %q", cfg.Address)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("MaxMessageSize overridden: %d", cfg.MaxMessageSize)
	}
	// An explicit partial ShutdownConfig (one true flag) must not be treated
	// as the unconfigured all-false zero value.
	if !cfg.Shutdown.CloseSocket || cfg.Shutdown.NotifyClient || cfg.Shutdown.NotifyHandler {
		t.Errorf("Shutdown should preserve explicit partial config: %+v", cfg.Shutdown)
	}
}

func TestClientConfig_WithDefaults(t *testing.T) {
	cfg := ClientConfig{}.WithDefaults()

	if cfg.MaxSize != 65536 {
		t.Errorf("MaxSize = %d", cfg.MaxSize)
	}
	if cfg.BufferSize != 4096 {
		t.Errorf("BufferSize = %d", cfg.BufferSize)
	}
	if cfg.Logger == nil {
		t.Errorf("Logger not defaulted")
	}
	if cfg.BufferProvider == nil {
		t.Fatalf("BufferProvider not defaulted")
	}
	if _, err := cfg.BufferProvider.Acquire(int(cfg.MaxSize)); err != nil {
		t.Errorf("defaulted BufferProvider rejected a max-size acquisition: %v", err)
	}
}
