package library

import "time"

// MembershipClass governs how many books a member may hold at once.
type MembershipClass string

const (
	ClassStudent MembershipClass = "student"
	ClassStaff   MembershipClass = "staff"
	ClassFaculty MembershipClass = "faculty"
)

// Valid reports whether c is one of the known membership classes.
func (c MembershipClass) Valid() bool {
	switch c {
	case ClassStudent, ClassStaff, ClassFaculty:
		return true
	}
	return false
}

// MemberStatus is the lifecycle state of a member. Only active members may borrow.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberGraduated MemberStatus = "graduated"
)

func (s MemberStatus) Valid() bool {
	switch s {
	case MemberActive, MemberSuspended, MemberGraduated:
		return true
	}
	return false
}

// LoanStatus is either issued or returned. A returned loan is never mutated again.
type LoanStatus string

const (
	LoanIssued   LoanStatus = "issued"
	LoanReturned LoanStatus = "returned"
)

// FineStatus tracks manual settlement of a fine.
type FineStatus string

const (
	FinePending FineStatus = "pending"
	FinePaid    FineStatus = "paid"
	FineWaived  FineStatus = "waived"
)

// Role distinguishes staff accounts. Only pages care about the difference.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleLibrarian }

// Book is a catalog entry together with its copy-availability counters.
// Invariant: 0 <= AvailableCopies <= TotalCopies.
type Book struct {
	ID              int64     `db:"id" json:"-"`
	BookID          string    `db:"book_id" json:"book_id"`
	Title           string    `db:"title" json:"title"`
	Author          string    `db:"author" json:"author"`
	ISBN            string    `db:"isbn" json:"isbn"`
	Publisher       string    `db:"publisher" json:"publisher,omitempty"`
	PublicationYear int       `db:"publication_year" json:"publication_year,omitempty"`
	Category        string    `db:"category" json:"category,omitempty"`
	Edition         string    `db:"edition" json:"edition,omitempty"`
	ShelfLocation   string    `db:"shelf_location" json:"shelf_location,omitempty"`
	TotalCopies     int       `db:"total_copies" json:"total_copies"`
	AvailableCopies int       `db:"available_copies" json:"available_copies"`
	AddedAt         time.Time `db:"added_at" json:"added_at"`
}

// Member is an enrolled borrower.
type Member struct {
	ID                 int64           `db:"id" json:"-"`
	MemberID           string          `db:"member_id" json:"member_id"`
	FirstName          string          `db:"first_name" json:"first_name"`
	LastName           string          `db:"last_name" json:"last_name"`
	Email              string          `db:"email" json:"email"`
	Phone              string          `db:"phone" json:"phone,omitempty"`
	Department         string          `db:"department" json:"department,omitempty"`
	Course             string          `db:"course" json:"course,omitempty"`
	RegistrationNumber string          `db:"registration_number" json:"registration_number,omitempty"`
	Class              MembershipClass `db:"membership_class" json:"membership_class"`
	Status             MemberStatus    `db:"status" json:"status"`
	JoinedAt           time.Time       `db:"joined_at" json:"joined_at"`
}

// FullName joins first and last name for display.
func (m *Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// Loan records one copy of a book held by one member between issue and return.
type Loan struct {
	ID         int64      `db:"id" json:"-"`
	LoanID     string     `db:"loan_id" json:"loan_id"`
	BookRef    int64      `db:"book_ref" json:"-"`
	MemberRef  int64      `db:"member_ref" json:"-"`
	IssuedBy   int64      `db:"issued_by" json:"issued_by"`
	IssuedAt   time.Time  `db:"issued_at" json:"issued_at"`
	DueAt      time.Time  `db:"due_at" json:"due_at"`
	ReturnedAt *time.Time `db:"returned_at" json:"returned_at,omitempty"`
	Status     LoanStatus `db:"status" json:"status"`
	FineAmount int64      `db:"fine_amount" json:"fine_amount"`
	Renewals   int        `db:"renewals" json:"renewals"`

	// Display fields, populated by listing queries only.
	BookCode   string `db:"book_code" json:"book_code,omitempty"`
	BookTitle  string `db:"book_title" json:"book_title,omitempty"`
	MemberCode string `db:"member_code" json:"member_code,omitempty"`
	MemberName string `db:"member_name" json:"member_name,omitempty"`
}

// Overdue reports whether an issued loan is past due at now.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == LoanIssued && now.After(l.DueAt)
}

// Fine is a monetary penalty for a late return. Amounts are whole currency units.
type Fine struct {
	ID         int64      `db:"id" json:"id"`
	LoanRef    int64      `db:"loan_ref" json:"-"`
	MemberRef  int64      `db:"member_ref" json:"-"`
	Amount     int64      `db:"amount" json:"amount"`
	PaidAmount int64      `db:"paid_amount" json:"paid_amount"`
	Status     FineStatus `db:"status" json:"status"`
	DueAt      time.Time  `db:"due_at" json:"due_at"`
	PaidAt     *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	LoanCode   string `db:"loan_code" json:"loan_code,omitempty"`
	MemberCode string `db:"member_code" json:"member_code,omitempty"`
	MemberName string `db:"member_name" json:"member_name,omitempty"`
}

// Outstanding is what remains to be paid on a pending fine.
func (f *Fine) Outstanding() int64 {
	if f.Status != FinePending {
		return 0
	}
	return f.Amount - f.PaidAmount
}

// User is a staff account able to log in.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"` // Don't serialize password hash
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Caller is the authenticated staff identity threaded into every mutating
// operation. The zero value means nobody is logged in.
type Caller struct {
	UserID   int64
	Username string
	Role     Role
}

// Authenticated reports whether c identifies a logged-in user.
func (c Caller) Authenticated() bool { return c.UserID != 0 }

// IsAdmin reports whether c holds the admin role.
func (c Caller) IsAdmin() bool { return c.Authenticated() && c.Role == RoleAdmin }
