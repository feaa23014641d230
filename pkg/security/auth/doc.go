/*
Package auth provides API key authentication for the agent's local status
endpoint.

Health and metrics endpoints stay open for local probes; /v1/status
exposes the device id and policy state and can be protected:

	security:
	  status_auth:
	    enabled: true
	    keys:
	      - name: tray-app
	        key: ${secret:status_key}

Keys are accepted from "Authorization: Bearer <key>" or "X-API-Key":

	validator := auth.NewAPIKeyValidator(auth.KeysFromConfig(&cfg.Security.StatusAuth))
	mw := auth.NewAPIKeyMiddleware(validator, nil, logger)
	mux.Handle("/v1/status", mw.Handle(statusHandler))

Handlers read the authenticated key with GetAPIKeyInfo.
*/
package auth
