/*
Package secrets resolves ${secret:name} references in the agent
configuration.

Credentials such as the sync and upload bearer tokens and the status API
keys should not live in the YAML file itself. They are looked up by name
in a secrets directory (one file per secret, mode 0600 or 0400) and then in
the environment:

	security:
	  secrets:
	    env_prefix: NEXTGUARD_SECRET_
	    file_dir: /etc/nextguard/secrets
	sync:
	  token: ${secret:sync-token}

With that configuration "sync-token" is read from
/etc/nextguard/secrets/sync-token, falling back to the environment
variable NEXTGUARD_SECRET_SYNC_TOKEN.

	manager, err := secrets.NewFromConfig(&cfg.Security.Secrets, logger)
	if err != nil {
		return err
	}
	if err := config.ResolveSecrets(ctx, cfg, manager); err != nil {
		return err
	}

Secret values are never logged; names are redacted in debug output.
*/
package secrets
