// Callisto is a streaming relay gateway for the Anthropic Messages API.
//
// It multiplexes client API keys onto a pool of OAuth-authenticated
// accounts, providing:
//   - API key issuance with quotas, rate limits, and restrictions
//   - OAuth token lifecycle management for the account pool
//   - Verbatim SSE relay with mid-stream usage accounting
//   - Cost tracking against per-key ceilings
//   - A durable request log for usage reporting
//
// Usage:
//
//	# Start the gateway with default configuration
//	callisto run
//
//	# Start with a custom configuration file
//	callisto run --config /etc/callisto/config.yaml
//
//	# Issue a client API key
//	callisto keys generate --name "team-web" --daily-cost-limit 25
//
//	# Add an upstream account and authorize it
//	callisto accounts add --name "pool-1"
//	callisto accounts login <account-id>
//
//	# Show version information
//	callisto version
package main

func main() {
	Execute()
}
