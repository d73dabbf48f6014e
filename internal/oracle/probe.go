package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"apishield.io/internal/ids"
	"apishield.io/internal/obs"
)

const maxBodySample = 1 << 20

// Probe is the built-in oracle: it issues a GET against the covered
// endpoint and treats a 5xx status or a transport error as failure. A
// transport error is recorded as status 0. On failure the payout equals
// the full covered amount.
type Probe struct {
	client *http.Client
	now    func() time.Time
}

var _ Oracle = (*Probe)(nil)

func NewProbe(timeout time.Duration) *Probe {
	return &Probe{
		client: &http.Client{Timeout: timeout},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Observe fetches the covered endpoint once. A transport error is not
// an error here: it is evidence, recorded as status 0.
func (p *Probe) Observe(ctx context.Context, merchantURL string) (Observation, error) {
	o := Observation{Headers: map[string]string{}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, merchantURL, nil)
	if err != nil {
		return Observation{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		obs.Event("info", "oracle probe transport error", map[string]any{
			"url": merchantURL,
			"err": err.Error(),
		})
		return o, nil
	}
	defer resp.Body.Close()

	o.HTTPStatus = int64(resp.StatusCode)
	for _, h := range []string{"Content-Type", "Server", "Date"} {
		if v := resp.Header.Get(h); v != "" {
			o.Headers[h] = v
		}
	}
	o.Body, _ = io.ReadAll(io.LimitReader(resp.Body, maxBodySample))
	return o, nil
}

func (p *Probe) Evaluate(ctx context.Context, o Observation, coverageUnits int64) (Evaluation, error) {
	e := Evaluation{
		ProofID:     ids.New(),
		Headers:     o.Headers,
		GeneratedAt: p.now(),
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	if o.HTTPStatus != 0 {
		sum := sha256.Sum256(o.Body)
		e.BodyHash = hex.EncodeToString(sum[:])
	}

	e.PublicOutputs[OutHTTPStatus] = o.HTTPStatus
	e.PublicOutputs[OutBodyLength] = int64(len(o.Body))
	if o.HTTPStatus == 0 || o.HTTPStatus >= 500 {
		e.PublicOutputs[OutFailure] = 1
		e.PublicOutputs[OutPayout] = coverageUnits
	}
	e.ProofBlob = commitment(e.ProofID, e.PublicOutputs)
	return e, nil
}

// Verify re-derives the commitment and checks it against the stored
// proof blob.
func (p *Probe) Verify(ctx context.Context, e Evaluation) (bool, error) {
	want := commitment(e.ProofID, e.PublicOutputs)
	if len(e.ProofBlob) != len(want) {
		return false, nil
	}
	for i := range want {
		if e.ProofBlob[i] != want[i] {
			return false, nil
		}
	}
	return true, nil
}

func commitment(proofID string, outputs [4]int64) []byte {
	h := sha256.New()
	h.Write([]byte(proofID))
	var buf [8]byte
	for _, o := range outputs {
		binary.BigEndian.PutUint64(buf[:], uint64(o))
		h.Write(buf[:])
	}
	return h.Sum(nil)
}
