// Package ldap implements the ldap_auth authenticator.
//
// A token principal:secret is checked with two binds on one connection:
//
//  1. bind as cn=<principal>,<base DN> with the secret
//  2. bind as the service account
//
// followed by a subtree search under the base DN with the configured
// filter template. The groups are the ou values of the first entry's DN,
// in DN order.
//
// Principals must be ASCII alphanumeric. Anything else is denied before a
// connection is opened, so neither the bind DN nor the filter can be
// altered by the caller.
//
// # Failure handling
//
// Transport failures and timeouts are reported as
// auth.ErrDirectoryUnavailable. With ldap_breaker=true those failures,
// and only those, feed a circuit breaker that short-circuits the
// directory while it is down.
package ldap
