package escrow

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"peermarket/apps/peermarket/internal/model"
)

// ProgramConfig holds the deployed program ids and shared oracle accounts the
// orchestrator submits instructions against.
type ProgramConfig struct {
	OfferProgram   solana.PublicKey
	TradeProgram   solana.PublicKey
	PriceProgram   solana.PublicKey
	ProfileProgram solana.PublicKey
	PriceState     solana.PublicKey
}

type createOfferArgs struct {
	PricePerToken uint64
	MinAmount     uint64
	MaxAmount     uint64
	OfferType     uint8
}

type updateOfferArgs struct {
	PricePerToken *uint64 `bin:"optional"`
	MinAmount     *uint64 `bin:"optional"`
	MaxAmount     *uint64 `bin:"optional"`
}

type createTradeArgs struct {
	Amount uint64
	Price  uint64
}

type depositEscrowArgs struct {
	Amount uint64
}

func encodeInstructionData(name string, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(model.InstructionDiscriminator(name))
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DeriveOfferAddress derives the PDA of an offer account. The seeds bind the
// offer to its maker, mint, direction and amount range.
func DeriveOfferAddress(program, maker, mint solana.PublicKey, offerType model.OfferType, minAmount, maxAmount uint64) (solana.PublicKey, error) {
	typeValue, err := offerType.WireValue()
	if err != nil {
		return solana.PublicKey{}, err
	}

	address, _, err := solana.FindProgramAddress([][]byte{
		[]byte("offer"),
		maker.Bytes(),
		mint.Bytes(),
		{typeValue},
		uint64LE(minAmount),
		uint64LE(maxAmount),
	}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive offer address: %w", err)
	}
	return address, nil
}

// DeriveTradeAddress derives the PDA of a trade account.
func DeriveTradeAddress(program, taker, maker, mint solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress([][]byte{
		[]byte("trade"),
		taker.Bytes(),
		maker.Bytes(),
		mint.Bytes(),
		uint64LE(amount),
	}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive trade address: %w", err)
	}
	return address, nil
}

// DeriveProfileAddress derives the PDA of a reputation profile account under
// the profile program.
func DeriveProfileAddress(program, owner solana.PublicKey) (solana.PublicKey, error) {
	address, _, err := solana.FindProgramAddress([][]byte{
		[]byte("profile"),
		owner.Bytes(),
	}, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive profile address: %w", err)
	}
	return address, nil
}

func (p ProgramConfig) createOfferInstruction(offer, maker, mint solana.PublicKey, args createOfferArgs) (solana.Instruction, error) {
	data, err := encodeInstructionData("create_offer", args)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.OfferProgram, solana.AccountMetaSlice{
		solana.Meta(offer).WRITE(),
		solana.Meta(maker).WRITE().SIGNER(),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
	}, data), nil
}

func (p ProgramConfig) updateOfferInstruction(offer, maker solana.PublicKey, args updateOfferArgs) (solana.Instruction, error) {
	data, err := encodeInstructionData("update_offer", args)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.OfferProgram, solana.AccountMetaSlice{
		solana.Meta(offer).WRITE(),
		solana.Meta(maker).SIGNER(),
	}, data), nil
}

// offerStatusInstruction covers pause_offer, resume_offer and close_offer,
// which share an account list and take no arguments.
func (p ProgramConfig) offerStatusInstruction(name string, offer, maker solana.PublicKey) (solana.Instruction, error) {
	data, err := encodeInstructionData(name, nil)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.OfferProgram, solana.AccountMetaSlice{
		solana.Meta(offer).WRITE(),
		solana.Meta(maker).SIGNER(),
	}, data), nil
}

func (p ProgramConfig) createTradeInstruction(trade, maker, taker, mint, makerTokenAccount, escrowAccount solana.PublicKey, args createTradeArgs) (solana.Instruction, error) {
	data, err := encodeInstructionData("create_trade", args)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TradeProgram, solana.AccountMetaSlice{
		solana.Meta(trade).WRITE(),
		solana.Meta(maker),
		solana.Meta(taker).WRITE().SIGNER(),
		solana.Meta(mint),
		solana.Meta(makerTokenAccount).WRITE(),
		solana.Meta(escrowAccount).WRITE().SIGNER(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
	}, data), nil
}

func (p ProgramConfig) depositEscrowInstruction(trade, escrowAccount, depositor, depositorTokenAccount solana.PublicKey, args depositEscrowArgs) (solana.Instruction, error) {
	data, err := encodeInstructionData("deposit_escrow", args)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TradeProgram, solana.AccountMetaSlice{
		solana.Meta(trade).WRITE(),
		solana.Meta(escrowAccount).WRITE(),
		solana.Meta(depositor).WRITE().SIGNER(),
		solana.Meta(depositorTokenAccount).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, data), nil
}

// completeTradeInstruction releases escrow to the taker. The account list is
// an interface contract with the on-chain program: escrow transfer accounts
// first, then the price oracle pair, then both parties' profile PDAs.
func (p ProgramConfig) completeTradeInstruction(trade, trader, taker, maker, escrowAccount, takerTokenAccount, takerProfile, makerProfile solana.PublicKey) (solana.Instruction, error) {
	data, err := encodeInstructionData("complete_trade", nil)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TradeProgram, solana.AccountMetaSlice{
		solana.Meta(trade).WRITE(),
		solana.Meta(trader).SIGNER(),
		solana.Meta(taker),
		solana.Meta(maker),
		solana.Meta(escrowAccount).WRITE(),
		solana.Meta(takerTokenAccount).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(p.PriceState),
		solana.Meta(p.PriceProgram),
		solana.Meta(takerProfile).WRITE(),
		solana.Meta(makerProfile).WRITE(),
		solana.Meta(p.ProfileProgram),
	}, data), nil
}

func (p ProgramConfig) cancelTradeInstruction(trade, trader solana.PublicKey) (solana.Instruction, error) {
	data, err := encodeInstructionData("cancel_trade", nil)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TradeProgram, solana.AccountMetaSlice{
		solana.Meta(trade).WRITE(),
		solana.Meta(trader).SIGNER(),
	}, data), nil
}

func (p ProgramConfig) disputeTradeInstruction(trade, disputer solana.PublicKey) (solana.Instruction, error) {
	data, err := encodeInstructionData("dispute_trade", nil)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TradeProgram, solana.AccountMetaSlice{
		solana.Meta(trade).WRITE(),
		solana.Meta(disputer).SIGNER(),
	}, data), nil
}
