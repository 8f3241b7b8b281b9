package domain

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"uniqueIndex;size:15;not null" json:"username"`
	PasswordHash string `gorm:"column:password;size:100;not null" json:"-"`
	Name         string `gorm:"size:64" json:"name"`
}

func (User) TableName() string { return "users" }

type UserRepository interface {
	Create(u *User) error
	FindByID(id uint) (*User, error)
	FindByUsername(username string) (*User, error)
	List() ([]User, error)
}
