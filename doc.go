// Package fmg is the entry point for talking to a FortiManager over its
// JSON-RPC API. It holds the connection Config and a one-call Open that turns
// it into a logged-in client.Session.
//
//	cfg := fmg.Config{
//	    BaseURL:  "https://fmg.example.net",
//	    Username: "api-user",
//	    Password: client.NewSecret(os.Getenv("FMG_PASSWORD")),
//	    ADOM:     "branch",
//	}
//	sess, err := fmg.Open(ctx, cfg, client.WithLogger(logger))
//	if err != nil { return err }
//	defer sess.Close(ctx, false)
//
//	addr, _ := objects.NewAddress("web-1", "10.0.0.0/24")
//	if _, err := sess.Add(ctx, client.Obj(addr)); err != nil { return err }
//
// The session, its retry policies, workspace handling and task polling live
// in package client; query filters are built with package filter and a few
// ready-made objects are in package objects. The fmgctl command wraps all of
// it for shell use.
package fmg
