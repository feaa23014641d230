/*
Package tls configures the HTTPS client the agent uses towards the
management server for policy sync and audit upload.

# Server Verification

The system roots are always trusted. An additional CA bundle can be added
for privately issued management server certificates:

	security:
	  tls:
	    ca_file: /etc/nextguard/ca.pem
	    min_version: "1.3"
	    server_name: console.internal

# Device Certificates

When cert_file and key_file are set the agent presents them as its client
certificate. The files are checked for changes and reloaded, so renewal
does not need an agent restart:

	client, reloader, err := tls.NewHTTPClient(&cfg.Security.TLS, 30*time.Second, logger)
	if err != nil {
		return err
	}
	if reloader != nil {
		if err := reloader.Start(ctx); err != nil {
			return err
		}
	}
*/
package tls
