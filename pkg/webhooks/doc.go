// Package webhooks delivers invitation notifications to an external mailer.
//
// Each event is POSTed as JSON to one configured URL. When a secret is set the
// body is signed with HMAC-SHA256 and the signature sent in
// X-Calltracker-Signature as "sha256=<hex>". Receivers check it with
// VerifySignature.
//
// Transport errors, 5xx, 408 and 429 responses are retried with exponential
// backoff; other 4xx responses fail at once.
//
//	d, err := webhooks.NewDispatcher(webhooks.Config{
//		URL:    "https://mailer.internal/hooks/invitations",
//		Secret: secret,
//	}, metrics)
//	if err != nil {
//		return err
//	}
//	svc, err := invitations.NewService(invitations.Dependencies{
//		Notifier: webhooks.NewNotifier(d),
//		// ...
//	}, cfg)
package webhooks
