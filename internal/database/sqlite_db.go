package walletstatedb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps the SQLite database holding accounts, outputs and open
// interfaces.
type Store struct {
	db *gorm.DB
}

// InitSQLiteDB opens (creating if needed) and migrates the SQLite database
func InitSQLiteDB(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	// Configure GORM to be less verbose
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	err = db.AutoMigrate(
		&SQLiteAccount{},
		&SQLiteUTXO{},
		&SQLiteFrozenOutpoint{},
		&SQLiteInterface{},
		&SQLiteChallenge{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	log.Println("SQLite database initialized successfully")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveAccount inserts or updates an account
func (s *Store) SaveAccount(account Account) error {
	row := SQLiteAccount{
		AccountID:     account.ID,
		Network:       account.Network,
		Address:       account.Address,
		ChangeAddress: account.ChangeAddress,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"network", "address", "change_address", "updated_at"}),
	}).Create(&row).Error
}

// GetAccount returns the account or ErrNotFound
func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var row SQLiteAccount
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:            row.AccountID,
		Network:       row.Network,
		Address:       row.Address,
		ChangeAddress: row.ChangeAddress,
	}, nil
}

// SaveUTXO records an unspent output for an account
func (s *Store) SaveUTXO(accountID string, utxo UTXO) error {
	row := SQLiteUTXO{
		AccountID: accountID,
		TxID:      utxo.TxID,
		Vout:      utxo.Vout,
		Value:     utxo.Value,
		PkScript:  utxo.PkScript,
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// DeleteUTXO removes a spent output
func (s *Store) DeleteUTXO(accountID, txID string, vout uint32) error {
	return s.db.Where("account_id = ? AND tx_id = ? AND vout = ?", accountID, txID, vout).
		Delete(&SQLiteUTXO{}).Error
}

// GetUTXOs lists all unspent outputs of an account
func (s *Store) GetUTXOs(ctx context.Context, accountID string) ([]UTXO, error) {
	var rows []SQLiteUTXO
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	utxos := make([]UTXO, len(rows))
	for i, row := range rows {
		utxos[i] = UTXO{
			TxID:     row.TxID,
			Vout:     row.Vout,
			Value:    row.Value,
			PkScript: row.PkScript,
		}
	}
	return utxos, nil
}

// FreezeOutpoint excludes an output from coin selection
func (s *Store) FreezeOutpoint(accountID string, frozen FrozenOutpoint) error {
	row := SQLiteFrozenOutpoint{
		AccountID: accountID,
		TxID:      frozen.TxID,
		Vout:      frozen.Vout,
		Reason:    frozen.Reason,
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// UnfreezeOutpoint makes a frozen output spendable again
func (s *Store) UnfreezeOutpoint(accountID, txID string, vout uint32) error {
	return s.db.Where("account_id = ? AND tx_id = ? AND vout = ?", accountID, txID, vout).
		Delete(&SQLiteFrozenOutpoint{}).Error
}

// GetFrozenOutpoints lists the frozen outputs of an account
func (s *Store) GetFrozenOutpoints(ctx context.Context, accountID string) ([]FrozenOutpoint, error) {
	var rows []SQLiteFrozenOutpoint
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&rows).Error; err != nil {
		return nil, err
	}

	frozen := make([]FrozenOutpoint, len(rows))
	for i, row := range rows {
		frozen[i] = FrozenOutpoint{TxID: row.TxID, Vout: row.Vout, Reason: row.Reason}
	}
	return frozen, nil
}

// SaveInterface inserts or replaces an interface record
func (s *Store) SaveInterface(ctx context.Context, rec InterfaceRecord) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to encode interface state: %v", err)
	}
	row := SQLiteInterface{
		InterfaceID: rec.ID,
		Screen:      rec.Screen,
		Context:     rec.Context,
		State:       state,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetInterface returns the interface record or ErrNotFound
func (s *Store) GetInterface(ctx context.Context, id string) (InterfaceRecord, error) {
	var row SQLiteInterface
	err := s.db.WithContext(ctx).Where("interface_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return InterfaceRecord{}, ErrNotFound
	}
	if err != nil {
		return InterfaceRecord{}, err
	}

	rec := InterfaceRecord{
		ID:        row.InterfaceID,
		Screen:    row.Screen,
		Context:   row.Context,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &rec.State); err != nil {
			return InterfaceRecord{}, fmt.Errorf("failed to decode interface state: %v", err)
		}
	}
	return rec, nil
}

// DeleteInterface removes a resolved interface
func (s *Store) DeleteInterface(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("interface_id = ?", id).Delete(&SQLiteInterface{}).Error
}

// SaveChallenge stores a new login challenge
func (s *Store) SaveChallenge(ctx context.Context, challenge Challenge) error {
	row := SQLiteChallenge{
		Hash:      challenge.Hash,
		Challenge: challenge.Challenge,
		Status:    challenge.Status,
		Npub:      challenge.Npub,
		ExpiresAt: challenge.ExpiresAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// GetChallenge returns the challenge with hash or ErrNotFound
func (s *Store) GetChallenge(ctx context.Context, hash string) (Challenge, error) {
	var row SQLiteChallenge
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Challenge{}, ErrNotFound
	}
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{
		Challenge: row.Challenge,
		Hash:      row.Hash,
		Status:    row.Status,
		Npub:      row.Npub,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// MarkChallengeAsUsed flags a challenge so it cannot be replayed
func (s *Store) MarkChallengeAsUsed(ctx context.Context, hash string) error {
	return s.db.WithContext(ctx).Model(&SQLiteChallenge{}).
		Where("hash = ?", hash).
		Update("status", "used").Error
}

// ClaimChallenge marks an unused challenge as used and reports whether this
// call was the one that changed it
func (s *Store) ClaimChallenge(ctx context.Context, hash string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&SQLiteChallenge{}).
		Where("hash = ? AND status = ?", hash, "unused").
		Update("status", "used")
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ExpireOldChallenges marks every unused challenge past its expiry as used
func (s *Store) ExpireOldChallenges(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&SQLiteChallenge{}).
		Where("status = ? AND expires_at < ?", "unused", time.Now()).
		Update("status", "used").Error
}
