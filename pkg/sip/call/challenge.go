package call

import (
	"github.com/tanbro/sipua/pkg/sip/auth"
	"github.com/tanbro/sipua/pkg/sip/message"
	"github.com/tanbro/sipua/pkg/sip/transaction"
)

// retryAuth answers a 401 or 407 with credentials from the store. It
// reports whether the request was sent again; the challenged response is
// then not reported. A nonce that was already answered means the
// credentials were rejected.
func (m *Manager) retryAuth(tx *transaction.Transaction, b *binding, resp *message.Response) bool {
	if resp.StatusCode != message.StatusUnauthorized && resp.StatusCode != message.StatusProxyAuthRequired {
		return false
	}
	switch b.purpose {
	case purposeInvite, purposeRegister, purposeMessage:
	case purposeSubscribe:
		if !b.dialog.IsNil() {
			return false
		}
	default:
		return false
	}
	if b.retries >= maxAuthRetries {
		return false
	}
	chal, err := auth.ChallengeFrom(resp)
	if err != nil {
		m.log.Debug("unusable challenge", "tx", tx.Key().String(), "error", err)
		return false
	}
	if chal.Nonce == b.nonce {
		return false
	}
	cred, ok := m.cfg.Credentials.Lookup(chal.Realm)
	if !ok {
		m.log.Info("no credentials for realm", "realm", chal.Realm, "method", tx.Request().Method)
		return false
	}

	var c *Call
	if b.purpose == purposeInvite {
		c, ok = m.calls.Get(b.call)
		if !ok || c.invite != tx.ID() || c.cancelled || c.cancelPending {
			return false
		}
	}

	req := tx.Request().CloneRequest()
	req.HeaderSet().Remove("Via")
	req.HeaderSet().Prepend("Via", m.via())
	seq, method, err := message.CSeq(req)
	if err != nil {
		return false
	}
	req.SetHeader("CSeq", message.FormatCSeq(seq+1, method))
	value, err := m.cfg.Authenticator.Authorize(req, chal, cred)
	if err != nil {
		m.log.Warn("cannot answer challenge", "realm", chal.Realm, "error", err)
		return false
	}
	req.SetHeader(chal.Header, value)

	next := *b
	next.nonce = chal.Nonce
	next.retries++
	if c != nil {
		// the pending dialog carries the old CSeq
		for _, id := range c.Dialogs() {
			m.endDialogID(id)
		}
		d, err := m.dialogs.CreateUAC(req)
		if err != nil {
			m.log.Warn("cannot restart dialog", "call_id", c.id.String(), "error", err)
			return false
		}
		m.attachDialog(c, d)
		next.dialog = d.ID()
	}

	retry, err := m.engine.Request(req, tx.Destination())
	if err != nil {
		m.log.Warn("authenticated retry not sent", "method", method, "error", err)
		return false
	}
	m.bind(retry, &next)
	m.log.Info("retrying with credentials", "method", method, "realm", chal.Realm, "attempt", next.retries)

	switch b.purpose {
	case purposeInvite:
		c.invite = retry.ID()
		c.request = req
		if d, ok := m.dialogs.Get(next.dialog); ok {
			d.AddTransaction(retry.ID())
		}
	case purposeRegister:
		if r, ok := m.registrations.Get(b.registration); ok {
			r.tx = retry.ID()
			r.cseq = seq + 1
		}
	case purposeSubscribe:
		if s, ok := m.subscriptions.Get(b.subscription); ok {
			s.tx = retry.ID()
			s.request = req
		}
	}
	return true
}
