/*
Package security groups the agent's key material, transport security,
secret resolution and status API authentication.

# Keys

The keys subpackage holds the Ed25519 keys that sign policy bundles and
upload batches, and the local master key from which the audit chain and
quarantine keys are derived:

	master, err := keys.LoadOrCreateMasterKey(cfg.Agent.MasterKeyPath)
	if err != nil {
		return err
	}
	chainKey, err := keys.DeriveKey(master, keys.PurposeAuditChain)

# TLS

Requests to the management server go through a client with optional mTLS.
The device certificate is reloaded when it changes on disk:

	client, reloader, err := tls.NewHTTPClient(&cfg.Security.TLS, 0, logger)
	if err != nil {
		return err
	}
	if reloader != nil {
		if err := reloader.Start(ctx); err != nil {
			return err
		}
	}

# Secret Management

Credential fields may reference secrets as ${secret:name}:

	manager := secrets.NewManager([]secrets.SecretProvider{
		secrets.NewEnvProvider("NEXTGUARD_SECRET_"),
	}, cacheConfig, logger)

	token, err := manager.GetSecret(ctx, "console-token")

# API Key Authentication

The status server's control endpoints are protected with API keys:

	validator := auth.NewAPIKeyValidator(apiKeys)
	middleware := auth.NewAPIKeyMiddleware(validator, auth.DefaultSources(), logger)

	mux.Handle("/v1/", middleware.Handle(api))
*/
package security
