// Package auth defines the authenticator contract and the pipeline that
// chains authenticators for token reviews.
//
// A token has the form principal:secret. Each backend implements
// Authenticator and is registered under a kind in a Registry:
//
//	reg := auth.NewRegistry()
//	reg.MustRegister(auth.Backend{Kind: "json_auth", Factory: local.New})
//
//	instances, err := reg.Build(ctx, cfg.Authenticators, cfg.Options, env)
//	if err != nil {
//	    return err
//	}
//	pipeline := auth.NewPipeline(cfg.Authenticators, instances,
//	    auth.WithLogger(logger),
//	    auth.WithMetrics(metrics),
//	)
//
//	res := pipeline.Run(ctx, "alice:correcthorse")
//
// # Deny semantics
//
// Every failure, whatever its cause, produces the same Result: not
// authenticated, empty username and an empty group list. Causes are kept
// as errors for logs and metrics only.
package auth
