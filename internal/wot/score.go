package wot

import (
	"fmt"
	"math"
	"time"
)

// Score aggregates a bag of attestations about one target into a Result.
//
// The computation is total: invalid records are skipped into the
// breakdown with a structured reason and every input yields a well-formed
// Result. It is also deterministic for a fixed Options.Now; the only
// ambient input, the wall clock, is consulted only when Now is zero.
//
// zapTotals maps attestation event ids to summed satoshis received via
// payment receipts; missing ids mean zero.
func Score(attestations []Attestation, zapTotals map[string]int64, opts Options) Result {
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = 90
	}
	if opts.NoveltyMultiplier <= 0 {
		opts.NoveltyMultiplier = 1.3
	}
	if opts.Now == 0 {
		opts.Now = time.Now().Unix()
	}

	// Self-attestations never influence a score. Dropping them before
	// grouping keeps the result identical whether or not they were in
	// the input bag.
	records := make([]Attestation, 0, len(attestations))
	for _, a := range attestations {
		if a.Author != "" && a.Author == a.Target {
			continue
		}
		records = append(records, a)
	}

	// Novelty is judged against the original bag: a record is novel only
	// if its timestamp is the earliest ever seen on its (author, target)
	// edge, including timestamps of records later deduplicated away.
	firstSeen := make(map[[2]string]int64, len(records))
	for _, a := range records {
		edge := [2]string{a.Author, a.Target}
		if min, ok := firstSeen[edge]; !ok || a.CreatedAt < min {
			firstSeen[edge] = a.CreatedAt
		}
	}

	type parsed struct {
		att     Attestation
		typ     Type
		typeErr error
	}
	all := make([]parsed, len(records))
	for i, a := range records {
		t, err := TypeFromTags(a.Tags)
		all[i] = parsed{att: a, typ: t, typeErr: err}
	}

	// Deduplicate per (author, target, type): keep the greatest
	// created_at, ties broken by lexicographic max id. Records whose type
	// did not parse are left alone so they can be reported individually.
	if opts.Deduplicate {
		type key struct {
			author, target string
			typ            Type
		}
		winners := make(map[key]parsed, len(all))
		for _, p := range all {
			if p.typeErr != nil {
				continue
			}
			k := key{p.att.Author, p.att.Target, p.typ}
			w, ok := winners[k]
			if !ok || p.att.CreatedAt > w.att.CreatedAt ||
				(p.att.CreatedAt == w.att.CreatedAt && p.att.ID > w.att.ID) {
				winners[k] = p
			}
		}
		kept := make([]parsed, 0, len(winners))
		for _, p := range all {
			if p.typeErr != nil {
				kept = append(kept, p)
				continue
			}
			if w := winners[key{p.att.Author, p.att.Target, p.typ}]; w.att.ID == p.att.ID {
				kept = append(kept, p)
			}
		}
		all = kept
	}

	var (
		res          Result
		sum          float64
		resolveCache map[string]*Result
	)
	if opts.Depth < opts.MaxDepth && opts.Resolve != nil {
		resolveCache = make(map[string]*Result)
	}

	for _, p := range all {
		a := p.att
		c := Contribution{
			ID:        a.ID,
			Author:    a.Author,
			Target:    a.Target,
			CreatedAt: a.CreatedAt,
		}

		if p.typeErr != nil {
			c.Skipped = true
			c.SkipReason = p.typeErr.Error()
			res.Breakdown = append(res.Breakdown, c)
			continue
		}
		c.Type = p.typ
		c.Multiplier = p.typ.Multiplier()
		res.AttestationCount++

		negative := p.typ.Negative()
		if negative && isBlank(a.Content) {
			c.Gated = true
			c.GateReason = "empty content"
			res.GatedCount++
			res.Breakdown = append(res.Breakdown, c)
			continue
		}

		// Attester trust: below the depth budget the attester's own score
		// dampens their word; at the budget they are assumed trusted.
		attesterTrust, attesterDisplay := 1.0, 100
		if opts.Depth < opts.MaxDepth {
			attesterDisplay = 0
			if resolveCache != nil {
				ar, ok := resolveCache[a.Author]
				if !ok {
					ar = opts.Resolve(a.Author)
					resolveCache[a.Author] = ar
				}
				if ar != nil {
					attesterDisplay = ar.Display
					if ar.Raw > 0 {
						attesterTrust = math.Sqrt(ar.Raw)
					}
				}
			}
		}
		c.AttesterTrust = attesterTrust

		if negative && opts.NegativeGate > 0 && attesterDisplay < opts.NegativeGate {
			c.Gated = true
			c.GateReason = fmt.Sprintf("attester trust %d < gate %d", attesterDisplay, opts.NegativeGate)
			res.GatedCount++
			res.Breakdown = append(res.Breakdown, c)
			continue
		}

		c.ZapSats = zapTotals[a.ID]
		c.ZapWeight = zapWeight(c.ZapSats)
		c.Decay = decay(opts.Now, a.CreatedAt, opts.HalfLifeDays)
		c.Novel = a.CreatedAt == firstSeen[[2]string{a.Author, a.Target}]

		value := c.ZapWeight * attesterTrust * c.Multiplier * c.Decay
		if c.Novel {
			value *= opts.NoveltyMultiplier
		}
		c.Value = value
		sum += value

		if value > 0 {
			res.PositiveCount++
		} else if value < 0 {
			res.NegativeCount++
		}
		res.Breakdown = append(res.Breakdown, c)
	}

	floored := math.Max(0, sum)
	res.Raw = math.Round(floored*100) / 100
	res.Display = int(math.Min(100, math.Round(floored*10)))
	res.Diversity = diversity(res.Breakdown)
	return res
}

// zapWeight converts summed zap satoshis into a weight multiplier.
// Logarithmic so that payment raises credibility without letting money
// dominate: 0 sats = 1.0, 1 sat = 1.5, ~1000 sats = 6.0.
func zapWeight(sats int64) float64 {
	if sats <= 0 {
		return 1.0
	}
	return 1.0 + math.Log2(1+float64(sats))*0.5
}

// decay returns the temporal weight of a record created at createdAt when
// scored at now. Future-dated records decay at 1.0 rather than being
// rejected.
func decay(now, createdAt int64, halfLifeDays float64) float64 {
	age := now - createdAt
	if age <= 0 {
		return 1.0
	}
	ageDays := float64(age) / 86400
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// diversity computes the sybil-resistance metric over the positive,
// non-gated part of the breakdown.
func diversity(breakdown []Contribution) Diversity {
	var (
		order  []string
		totals = make(map[string]float64)
		n      int
		sum    float64
	)
	for _, c := range breakdown {
		if c.Gated || c.Skipped || c.Value <= 0 {
			continue
		}
		if _, ok := totals[c.Author]; !ok {
			order = append(order, c.Author)
		}
		totals[c.Author] += c.Value
		n++
		sum += c.Value
	}
	if n == 0 || sum <= 0 {
		return Diversity{}
	}

	var d Diversity
	d.UniqueAttesters = len(order)
	for _, author := range order {
		share := totals[author] / sum
		if share > d.MaxAttesterShare {
			d.MaxAttesterShare = share
			d.TopAttester = author
		}
	}
	spread := math.Min(1, float64(d.UniqueAttesters)/float64(n))
	d.Diversity = math.Round(spread*(1-d.MaxAttesterShare)*100) / 100
	return d
}
