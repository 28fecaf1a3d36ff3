// Package client is the Go SDK for the FortiManager JSON-RPC API.
//
// # Quick start
//
// A Session wraps one login. Requests are either a RawRequest, addressing the
// API by URL the way the JSON form does, or an ObjectRequest wrapping a value
// that implements Object (see package objects):
//
//	ctx := context.Background()
//	sess, err := client.New("https://fmg.example.com",
//	    client.WithCredentials("api", client.NewSecret(password)),
//	    client.WithADOM("root"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sess.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx, false)
//
//	resp, err := sess.Get(ctx, client.Raw("/pm/config/adom/root/obj/firewall/address", nil),
//	    client.WithFilter(filter.F("name", "web-1")),
//	    client.WithFields("name", "subnet"),
//	)
//
// # Errors
//
// Server statuses are classified into sentinels (ErrLockNeeded,
// ErrAlreadyExists, ErrInvalidURL, ...) carried by *StatusError, so
// errors.Is works on every returned error. With WithRaiseOnError(false) failed
// results come back as a Response with Success false and Error set instead.
//
// # Retries
//
// Every call runs through a policy chain. AuthRetry logs in again once when
// the server rejects the token. LockRetry, applied to add, set, update,
// delete and clone, locks the owning ADOM once when workspace mode demands a
// lock. Neither retries more than once. Extra policies can be inserted with
// WithPolicies.
//
// # Workspace mode
//
// Session.Workspace exposes the lock/commit context. Close commits (unless
// discarding) and unlocks everything the session locked before logging out.
//
// # Tasks
//
// Long running jobs return a task id; WaitForTask and Response.WaitForTask
// poll it until a terminal state.
package client
