// Package config defines the gateway configuration and the Service, Route
// and Aggregation records the gateway serves.
//
// Configuration is YAML with ${VAR} and ${VAR:-default} substitution:
//
//	server:
//	  port: 8080
//	  prefix: /api
//	services:
//	  - name: users-api
//	    baseUrl: http://users:8000
//	    healthCheck: {enabled: true, type: http, path: /health, interval: 15s}
//	    circuitBreaker: {enabled: true, threshold: 5, timeout: 60s}
//	routes:
//	  - pathPattern: /users/{id}
//	    method: GET
//	    service: users-api
//
// LoadConfig parses and defaults a file, ValidateConfig enforces the
// record invariants and Watcher reloads the file when it changes.
package config
