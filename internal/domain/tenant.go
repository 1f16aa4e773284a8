// Package domain contains core business types and interfaces.
//
// This file defines tenant identity types used by the admission layer.
// A tenant is a retail organization; external identities (chat ids, API key
// ids) map onto it through the tenant cache and resolver.
package domain

import "time"

// TenantRef is the resolved identity of a tenant for a single request.
// It is passed explicitly through the call chain (pipeline -> handlers ->
// services) rather than looked up from ambient state.
type TenantRef struct {
	TenantID string
	PlanName string
}

// CachedTenant is a tenant resolution held in the in-memory cache.
type CachedTenant struct {
	TenantID string
	PlanName string
	CachedAt time.Time
}

// Expired reports whether the entry is older than ttl at the given time.
// An entry exactly at the TTL boundary counts as expired.
func (c CachedTenant) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CachedAt) >= ttl
}

// Ref converts the cached entry to a request-scoped tenant reference.
func (c CachedTenant) Ref() TenantRef {
	return TenantRef{TenantID: c.TenantID, PlanName: c.PlanName}
}
