package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeActivePool
	SubTypeDefaultPool
	SubTypeSurplusPool
	SubTypeStabilityPool
	SubTypeGasPool
	SubTypeFeePool

	// External sub-types
	SubTypeExternalCollateral
	SubTypeExternalIssuance
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetStable     AssetID = 2
	AssetDebt       AssetID = 3
)

var (
	assetToID = map[string]AssetID{
		"COLL":   AssetCollateral,
		"STABLE": AssetStable,
		"DEBT":   AssetDebt,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "COLL",
		AssetStable:     "STABLE",
		AssetDebt:       "DEBT",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// Well-known addresses of the system holders. They never collide with a
// real key-derived address.
var (
	ActivePoolAddress    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	DefaultPoolAddress   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	SurplusPoolAddress   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	StabilityPoolAddress = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	GasPoolAddress       = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	FeePoolAddress       = common.HexToAddress("0x00000000000000000000000000000000000000a6")
)

var systemAddresses = map[common.Address]AccountSubType{
	ActivePoolAddress:    SubTypeActivePool,
	DefaultPoolAddress:   SubTypeDefaultPool,
	SurplusPoolAddress:   SubTypeSurplusPool,
	StabilityPoolAddress: SubTypeStabilityPool,
	GasPoolAddress:       SubTypeGasPool,
	FeePoolAddress:       SubTypeFeePool,
}

// IsSystemAddress reports whether addr belongs to a ledger-owned holder.
func IsSystemAddress(addr common.Address) bool {
	_, ok := systemAddresses[addr]
	return ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID common.Address // owner for users, holder address for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for a user's wallet
func NewUserAccountKey(owner common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for a ledger-owned holder
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	var entity common.Address
	for addr, st := range systemAddresses {
		if st == subType {
			entity = addr
			break
		}
	}
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entity,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// HolderKey resolves an address to the account that holds asset for it:
// the system account for pool addresses, the wallet otherwise.
func HolderKey(addr common.Address, assetID AssetID) AccountKey {
	if st, ok := systemAddresses[addr]; ok {
		return AccountKey{
			Scope:    AccountScopeSystem,
			EntityID: addr,
			SubType:  st,
			AssetID:  assetID,
		}
	}
	return NewUserAccountKey(addr, assetID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.EntityID.Hex(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeActivePool:
		return "active_pool"
	case SubTypeDefaultPool:
		return "default_pool"
	case SubTypeSurplusPool:
		return "surplus_pool"
	case SubTypeStabilityPool:
		return "stability_pool"
	case SubTypeGasPool:
		return "gas_pool"
	case SubTypeFeePool:
		return "fee_pool"
	case SubTypeExternalCollateral:
		return "collateral"
	case SubTypeExternalIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}
