package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// journalNamespace seeds deterministic journal and batch ids, so replaying a
// transaction log reproduces the same ids.
var journalNamespace = uuid.MustParse("5c0f7e0a-3d4e-4b7a-9a55-6f1d2c3b4a59")

// JournalGenerator creates balanced journal batches for SCP operations.
// SetContext binds the generator to the transaction being executed.
type JournalGenerator struct {
	eventRef  string
	sequence  int64
	timestamp uint64
	counter   int
}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// SetContext resets the generator for a new transaction.
func (jg *JournalGenerator) SetContext(eventRef string, sequence int64, timestamp uint64) {
	jg.eventRef = eventRef
	jg.sequence = sequence
	jg.timestamp = timestamp
	jg.counter = 0
}

func (jg *JournalGenerator) nextID() uuid.UUID {
	jg.counter++
	return uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s/%d/%d", jg.eventRef, jg.sequence, jg.counter)))
}

func (jg *JournalGenerator) newBatch(legs int) *Batch {
	return &Batch{
		BatchID:   jg.nextID(),
		EventRef:  jg.eventRef,
		Sequence:  jg.sequence,
		Timestamp: jg.timestamp,
		Journals:  make([]Journal, 0, legs),
	}
}

func (jg *JournalGenerator) addLeg(b *Batch, debit, credit AccountKey, amount *uint256.Int, typ JournalType) {
	if amount.IsZero() {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     jg.nextID(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        *amount,
		JournalType:   typ,
		Timestamp:     b.Timestamp,
	})
}

// GenerateMint issues amount to holder.
// Moves: external:issuance → user:<holder>:refundable|non_refundable
func (jg *JournalGenerator) GenerateMint(to common.Address, amount *uint256.Int, refundable bool) *Batch {
	sub := SubTypeNonRefundable
	if refundable {
		sub = SubTypeRefundable
	}
	b := jg.newBatch(1)
	jg.addLeg(b, NewUserAccountKey(to, sub), NewIssuanceAccountKey(), amount, JournalTypeMint)
	return b
}

// GenerateBurn retires nonRefundable then refundable units from holder.
// Moves: user:<holder>:* → external:issuance
func (jg *JournalGenerator) GenerateBurn(from common.Address, nonRefundable, refundable *uint256.Int) *Batch {
	b := jg.newBatch(2)
	issuance := NewIssuanceAccountKey()
	jg.addLeg(b, issuance, NewUserAccountKey(from, SubTypeNonRefundable), nonRefundable, JournalTypeBurn)
	jg.addLeg(b, issuance, NewUserAccountKey(from, SubTypeRefundable), refundable, JournalTypeBurn)
	return b
}

// GenerateWithdraw retires refundable units only.
// Moves: user:<holder>:refundable → external:issuance
func (jg *JournalGenerator) GenerateWithdraw(from common.Address, amount *uint256.Int) *Batch {
	b := jg.newBatch(1)
	jg.addLeg(b, NewIssuanceAccountKey(), NewUserAccountKey(from, SubTypeRefundable), amount, JournalTypeWithdraw)
	return b
}

// GenerateTransfer moves nonRefundable and refundable units between holders,
// keeping each unit in its partition.
func (jg *JournalGenerator) GenerateTransfer(from, to common.Address, nonRefundable, refundable *uint256.Int) *Batch {
	b := jg.newBatch(2)
	jg.addLeg(b, NewUserAccountKey(to, SubTypeNonRefundable), NewUserAccountKey(from, SubTypeNonRefundable), nonRefundable, JournalTypeTransfer)
	jg.addLeg(b, NewUserAccountKey(to, SubTypeRefundable), NewUserAccountKey(from, SubTypeRefundable), refundable, JournalTypeTransfer)
	return b
}
