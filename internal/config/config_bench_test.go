package config

import "testing"

func BenchmarkReadEnvironment(b *testing.B) {
	b.Setenv("ADDRESS", "127.0.0.1:9999")
	b.Setenv("CACHE_TTL", "15s")
	b.Setenv("RETRY_DELAYS", "1s,3s,5s")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg := Default()
		_ = readEnvironment(cfg)
	}
}
