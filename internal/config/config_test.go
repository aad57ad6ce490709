package config

import "testing"

func TestLoadRoutingDefaults(t *testing.T) {
	t.Setenv("RAG_TOP_K", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("CHUNK_OVERLAP", "")
	t.Setenv("SESSION_MAX_EXCHANGES", "")
	t.Setenv("SESSION_CONTEXT_QUERIES", "")
	t.Setenv("ROUTE_WITH_CONTEXT", "")
	t.Setenv("EMBED_DRIVER", "")

	cfg := Load()
	if cfg.RAGTopK != 3 {
		t.Fatalf("expected default top-k 3, got %d", cfg.RAGTopK)
	}
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 {
		t.Fatalf("expected default chunking 1000/200, got %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.SessionMaxExchanges != 5 {
		t.Fatalf("expected default session window 5, got %d", cfg.SessionMaxExchanges)
	}
	if cfg.SessionContextQueries != 3 {
		t.Fatalf("expected default context queries 3, got %d", cfg.SessionContextQueries)
	}
	if cfg.RouteWithContext {
		t.Fatal("expected routing on the raw query by default")
	}
	if cfg.EmbedDriver != "ollama" {
		t.Fatalf("expected default embed driver ollama, got %q", cfg.EmbedDriver)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RAG_TOP_K", "7")
	t.Setenv("ROUTE_WITH_CONTEXT", "true")
	t.Setenv("GEN_TEMPERATURE", "0.4")
	t.Setenv("SESSION_LOG_DRIVER", "postgres")
	t.Setenv("EMBED_DRIVER", "openai")

	cfg := Load()
	if cfg.RAGTopK != 7 {
		t.Fatalf("expected top-k 7, got %d", cfg.RAGTopK)
	}
	if !cfg.RouteWithContext {
		t.Fatal("expected route-with-context override")
	}
	if cfg.GenTemperature != 0.4 {
		t.Fatalf("expected temperature 0.4, got %v", cfg.GenTemperature)
	}
	if cfg.SessionLogDriver != "postgres" {
		t.Fatalf("expected session log driver postgres, got %q", cfg.SessionLogDriver)
	}
	if cfg.EmbedDriver != "openai" {
		t.Fatalf("expected embed driver openai, got %q", cfg.EmbedDriver)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RAG_TOP_K", "many")
	t.Setenv("GEN_TEMPERATURE", "warm")

	cfg := Load()
	if cfg.RAGTopK != 3 {
		t.Fatalf("malformed int should fall back, got %d", cfg.RAGTopK)
	}
	if cfg.GenTemperature != 0 {
		t.Fatalf("malformed float should fall back, got %v", cfg.GenTemperature)
	}
}
