package config

// defaults returns the default configuration values keyed by viper path.
func defaults() map[string]any {
	return map[string]any{
		"database.path": "schemadoc.db",

		"provider.type":                "openai",
		"provider.api_key":             "${OPENAI_API_KEY}",
		"provider.model":               "",
		"provider.requests_per_minute": 60,

		"pipeline.workers":                  4,
		"pipeline.extract_retries":          3,
		"pipeline.max_attempts":             3,
		"pipeline.retry_base_delay_seconds": 2,
		"pipeline.retention_days":           90,

		"classifier.tier1_score": 70,
		"classifier.tier2_score": 30,

		"review.high_confidence": 0.85,
		"review.low_confidence":  0.70,

		"cache.ttl_hours": 24,

		"sequence.warn_threshold": 1000,
		"sequence.categories":     []string{"SP", "VW", "FN"},
	}
}
