package blanco

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	birthdayDataAccessError = "An error occurred while accessing data."
	birthdayInsertError     = "An error occurred while inserting data."
	birthdayUpdateError     = "An error occurred while updating data."
	birthdayDeleteError     = "An error occurred while deleting data."
)

var ErrBirthdayNotFound = errors.New("birthday not found")

// Birthday is a guild member's birthday. A user may register one birthday
// per guild.
type Birthday struct {
	GuildID string `gorm:"primaryKey;type:varchar(32);not null" json:"guild_id" binding:"required"`
	UserID  string `gorm:"primaryKey;type:varchar(32);not null" json:"user_id" binding:"required"`
	Day     int    `gorm:"not null" json:"day" binding:"min=1,max=31"`
	Month   int    `gorm:"not null" json:"month" binding:"min=1,max=12"`
	ModelUnixTime
}

func (Birthday) TableName() string {
	return "birthdays"
}

func (b Birthday) String() string {
	return formatDate(b.Day, b.Month)
}

func (b Birthday) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", b.GuildID),
		slog.String("user_id", b.UserID),
		slog.Int("day", b.Day),
		slog.Int("month", b.Month),
	)
}

// validDate reports whether day exists in month. Any year is assumed to
// be a leap year, so February 29 is accepted.
func validDate(day, month int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	// 2000 is a leap year
	lastDay := time.Date(2000, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return day <= lastDay
}

func validateBirthday(sl validator.StructLevel) {
	b := sl.Current().Interface().(Birthday)
	if b.Day >= 1 && b.Day <= 31 && b.Month >= 1 && b.Month <= 12 && !validDate(b.Day, b.Month) {
		sl.ReportError(b.Day, "Day", "day", "date", "")
	}
}

// BirthdayStore persists birthdays
type BirthdayStore interface {
	// GetByID returns the birthday of userID in guildID, or nil if there's none
	GetByID(ctx context.Context, guildID, userID string) (*Birthday, error)

	// GetAll returns every birthday registered in guildID, in calendar order
	GetAll(ctx context.Context, guildID string) ([]Birthday, error)

	Create(ctx context.Context, birthday *Birthday) error
	Update(ctx context.Context, guildID, userID string, day, month int) error
	Destroy(ctx context.Context, guildID, userID string) error
}

// birthdayStore reads from db and writes through writeDB
type birthdayStore struct {
	db      *gorm.DB
	writeDB DBI
}

func newBirthdayStore(db *gorm.DB, writeDB DBI) *birthdayStore {
	return &birthdayStore{db: db, writeDB: writeDB}
}

func (s *birthdayStore) GetByID(ctx context.Context, guildID, userID string) (*Birthday, error) {
	var b Birthday
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Take(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *birthdayStore) GetAll(ctx context.Context, guildID string) ([]Birthday, error) {
	var birthdays []Birthday
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("month, day, user_id").
		Find(&birthdays).Error
	return birthdays, err
}

func (s *birthdayStore) Create(ctx context.Context, birthday *Birthday) error {
	if err := structValidator.Struct(birthday); err != nil {
		return err
	}
	_, err := s.writeDB.Create(ctx, birthday)
	return err
}

func (s *birthdayStore) Update(ctx context.Context, guildID, userID string, day, month int) error {
	if err := structValidator.Struct(
		Birthday{GuildID: guildID, UserID: userID, Day: day, Month: month},
	); err != nil {
		return err
	}
	rows, err := s.writeDB.UpdatesWhere(
		ctx,
		&Birthday{},
		map[string]any{"day": day, "month": month},
		"guild_id = ? AND user_id = ?",
		guildID, userID,
	)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBirthdayNotFound
	}
	return nil
}

func (s *birthdayStore) Destroy(ctx context.Context, guildID, userID string) error {
	_, err := s.writeDB.Delete(
		ctx,
		&Birthday{},
		"guild_id = ? AND user_id = ?",
		guildID, userID,
	)
	return err
}

// Birthdays implements the birthday operations available to commands.
// Each operation returns the embed to reply with: a success message, or
// an error message if the store failed (the error itself is logged).
type Birthdays struct {
	store  BirthdayStore
	logger *slog.Logger
}

func NewBirthdays(store BirthdayStore, logger *slog.Logger) *Birthdays {
	if logger == nil {
		logger = slog.Default()
	}
	return &Birthdays{store: store, logger: logger}
}

func (b *Birthdays) CreateBirthday(
	ctx context.Context,
	day, month int,
	guildID, userID string,
) *discordgo.MessageEmbed {
	birthday := &Birthday{GuildID: guildID, UserID: userID, Day: day, Month: month}
	if err := b.store.Create(ctx, birthday); err != nil {
		b.logger.ErrorContext(ctx, "error inserting birthday", "birthday", birthday, tint.Err(err))
		return errorEmbed(birthdayInsertError)
	}
	b.logger.InfoContext(ctx, "birthday added", "birthday", birthday)
	return successEmbed("Your birthday has been added!")
}

func (b *Birthdays) EditBirthday(
	ctx context.Context,
	day, month int,
	guildID, userID string,
) *discordgo.MessageEmbed {
	if err := b.store.Update(ctx, guildID, userID, day, month); err != nil {
		b.logger.ErrorContext(
			ctx, "error updating birthday",
			"guild_id", guildID, "user_id", userID,
			"date", formatDate(day, month),
			tint.Err(err),
		)
		return errorEmbed(birthdayUpdateError)
	}
	b.logger.InfoContext(
		ctx, "birthday updated",
		"guild_id", guildID, "user_id", userID, "date", formatDate(day, month),
	)
	return successEmbed("Your birthday has been updated!")
}

func (b *Birthdays) RemoveBirthday(
	ctx context.Context,
	guildID, userID string,
) *discordgo.MessageEmbed {
	if err := b.store.Destroy(ctx, guildID, userID); err != nil {
		b.logger.ErrorContext(
			ctx, "error deleting birthday",
			"guild_id", guildID, "user_id", userID,
			tint.Err(err),
		)
		return errorEmbed(birthdayDeleteError)
	}
	b.logger.InfoContext(ctx, "birthday removed", "guild_id", guildID, "user_id", userID)
	return successEmbed("Your birthday has been removed!")
}

// Get returns the birthday of userID in guildID, or nil
func (b *Birthdays) Get(ctx context.Context, guildID, userID string) (*Birthday, error) {
	return b.store.GetByID(ctx, guildID, userID)
}

// All returns every birthday in guildID, in calendar order
func (b *Birthdays) All(ctx context.Context, guildID string) ([]Birthday, error) {
	return b.store.GetAll(ctx, guildID)
}

func birthdayListDescription(birthdays []Birthday) string {
	if len(birthdays) == 0 {
		return "No birthday registered."
	}
	desc := "Here are the registered birthdays:"
	for _, b := range birthdays {
		desc += fmt.Sprintf("\n- %s: %s", mentionUser(b.UserID), b)
	}
	return desc
}
