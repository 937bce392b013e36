package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Strategy string

const (
	StrategyDirect    Strategy = "DIRECT"
	StrategyFlashloan Strategy = "FLASHLOAN"
)

// TokenRef identifies one tradable asset in the monitored set.
// Blacklisted always wins over Approved when deciding trade eligibility.
type TokenRef struct {
	Symbol      string
	Addr        common.Address
	Approved    bool
	Blacklisted bool
}

func (t TokenRef) Eligible() bool { return t.Approved && !t.Blacklisted }

// Opportunity is a transient trade candidate. It is recomputed on every
// attempt and never persisted: prices move between scan and execution, and
// the min-out check at execution time is what bounds that race.
type Opportunity struct {
	TokenIn           TokenRef
	TokenOut          TokenRef
	AmountUSD         float64
	QuotedOutUSD      float64 // venue-quoted proceeds for AmountUSD
	GasUSD            float64
	ExpectedProfitUSD float64
	FeeTier           uint32
	Ts                time.Time
}

// FlashLoanRequest describes one flash loan. Assets, Amounts and Modes run
// parallel by index; mode 0 means the loan is repaid in full within the same
// atomic sequence.
type FlashLoanRequest struct {
	Assets  []common.Address
	Amounts []*big.Int
	Modes   []uint8
	Params  []byte
}

func (r FlashLoanRequest) Valid() bool {
	return len(r.Assets) > 0 &&
		len(r.Assets) == len(r.Amounts) &&
		len(r.Assets) == len(r.Modes)
}

// Receipt is the outcome of one settled execution attempt.
type Receipt struct {
	Attempt   string
	Strategy  Strategy
	TokenIn   string
	TokenOut  string
	ProfitUSD float64
	TxHash    string
	Super     bool
	Ts        time.Time
}
