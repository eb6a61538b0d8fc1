package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive librarian console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.open()
			if err != nil {
				return err
			}
			defer mgr.Close()
			return runShell(cmd.Context(), mgr)
		},
	}
}

// console is one logged-in interactive session.
type console struct {
	ctx    context.Context
	sc     *bufio.Scanner
	mgr    *library.LibraryManager
	caller library.Caller
}

func runShell(ctx context.Context, mgr *library.LibraryManager) error {
	c := &console{ctx: ctx, sc: bufio.NewScanner(os.Stdin), mgr: mgr}

	username, ok := c.ask("Username: ")
	if !ok {
		return nil
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if c.caller, err = mgr.Authenticate(ctx, username, password); err != nil {
		return err
	}

	fmt.Printf("Welcome, %s (%s).\n", c.caller.Username, c.caller.Role)
	fmt.Println("Available commands:")
	fmt.Println("  Books: add book, list books, search book, set copies")
	fmt.Println("  Members: add member, list members, show member, set status")
	fmt.Println("  Circulation: issue, return, renew, check, loans, overdue")
	fmt.Println("  Fines: fines, pay fine, waive fine")
	fmt.Println("  System: dashboard, exit")

	for {
		fmt.Print("\n> ")
		if !c.sc.Scan() {
			return c.sc.Err()
		}
		switch cmd := strings.TrimSpace(c.sc.Text()); cmd {
		case "add book":
			c.addBook()
		case "list books":
			c.listBooks("")
		case "search book":
			if q, ok := c.ask("Query: "); ok {
				c.listBooks(q)
			}
		case "set copies":
			c.setCopies()
		case "add member":
			c.addMember()
		case "list members":
			c.listMembers()
		case "show member":
			c.showMember()
		case "set status":
			c.setStatus()
		case "issue":
			c.issue()
		case "return":
			c.returnBook()
		case "renew":
			c.renew()
		case "check":
			c.check()
		case "loans":
			c.listLoans(library.LoanFilter{Status: library.LoanIssued})
		case "overdue":
			c.listLoans(library.LoanFilter{Overdue: true})
		case "fines":
			c.listFines()
		case "pay fine":
			c.payFine()
		case "waive fine":
			c.waiveFine()
		case "dashboard":
			c.dashboard()
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return nil
		case "":
		default:
			fmt.Println("Unknown command. Type one of the available commands listed above.")
		}
	}
}

// ask prompts and returns the trimmed answer; ok is false at end of input.
func (c *console) ask(prompt string) (string, bool) {
	fmt.Print(prompt)
	if !c.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.sc.Text()), true
}

func (c *console) askInt(prompt string) (int64, bool) {
	raw, ok := c.ask(prompt)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fmt.Printf("Not a number: %s\n", raw)
		return 0, false
	}
	return n, true
}

func report(action string, err error) bool {
	if err == nil {
		return false
	}
	if library.KindOf(err) != "" {
		fmt.Printf("%s refused: %v\n", action, err)
	} else {
		fmt.Printf("Error %s: %v\n", strings.ToLower(action), err)
	}
	return true
}

func (c *console) addBook() {
	var nb library.NewBook
	var ok bool
	if nb.Title, ok = c.ask("Title: "); !ok {
		return
	}
	if nb.Author, ok = c.ask("Author: "); !ok {
		return
	}
	if nb.ISBN, ok = c.ask("ISBN: "); !ok {
		return
	}
	if nb.Category, ok = c.ask("Category (optional): "); !ok {
		return
	}
	if nb.ShelfLocation, ok = c.ask("Shelf location (optional): "); !ok {
		return
	}
	copies, ok := c.askInt("Copies: ")
	if !ok {
		return
	}
	nb.TotalCopies = int(copies)

	b, err := c.mgr.AddBook(c.ctx, c.caller, nb)
	if report("Adding book", err) {
		return
	}
	fmt.Printf("Book added successfully! Book ID: %s\n", b.BookID)
}

func (c *console) listBooks(q string) {
	books, err := c.mgr.ListBooks(c.ctx, library.BookFilter{Search: q})
	if report("Listing books", err) {
		return
	}
	if len(books) == 0 {
		fmt.Println("No books found.")
		return
	}
	fmt.Printf("%-12s %-30s %-22s %-15s %s\n", "ID", "Title", "Author", "ISBN", "Avail")
	fmt.Println(strings.Repeat("-", 90))
	for _, b := range books {
		fmt.Println(library.PrettyBook(b))
	}
}

func (c *console) setCopies() {
	code, ok := c.ask("Book ID: ")
	if !ok {
		return
	}
	total, ok := c.askInt("New total copies: ")
	if !ok {
		return
	}
	b, err := c.mgr.AdjustCopies(c.ctx, c.caller, code, int(total))
	if report("Adjusting copies", err) {
		return
	}
	fmt.Printf("%s now has %d copies, %d available\n", b.BookID, b.TotalCopies, b.AvailableCopies)
}

func (c *console) addMember() {
	var nm library.NewMember
	var ok bool
	if nm.FirstName, ok = c.ask("First name: "); !ok {
		return
	}
	if nm.LastName, ok = c.ask("Last name: "); !ok {
		return
	}
	if nm.Email, ok = c.ask("Email: "); !ok {
		return
	}
	if nm.Department, ok = c.ask("Department (optional): "); !ok {
		return
	}
	class, ok := c.ask("Class [student/staff/faculty]: ")
	if !ok {
		return
	}
	nm.Class = library.MembershipClass(strings.ToLower(class))

	m, err := c.mgr.EnrollMember(c.ctx, c.caller, nm)
	if report("Adding member", err) {
		return
	}
	fmt.Printf("Member added successfully! Member ID: %s\n", m.MemberID)
}

func (c *console) listMembers() {
	members, err := c.mgr.ListMembers(c.ctx, library.MemberFilter{})
	if report("Listing members", err) {
		return
	}
	if len(members) == 0 {
		fmt.Println("No members registered.")
		return
	}
	fmt.Printf("%-12s %-30s %-30s %-8s %s\n", "ID", "Name", "Email", "Class", "Status")
	fmt.Println(strings.Repeat("-", 95))
	for _, m := range members {
		fmt.Printf("%-12s %-30.30s %-30.30s %-8s %s\n", m.MemberID, m.FullName(), m.Email, m.Class, m.Status)
	}
}

func (c *console) showMember() {
	code, ok := c.ask("Member ID: ")
	if !ok {
		return
	}
	m, err := c.mgr.GetMember(c.ctx, code)
	if report("Looking up member", err) {
		return
	}
	owed, err := c.mgr.OutstandingBalance(c.ctx, m.MemberID)
	if report("Looking up fines", err) {
		return
	}
	fmt.Printf("%s  %s <%s>\n", m.MemberID, m.FullName(), m.Email)
	fmt.Printf("Class: %s (limit %d)  Status: %s  Owes: %d.00\n",
		m.Class, c.mgr.Policy().LimitFor(m.Class), m.Status, owed)
	c.listLoans(library.LoanFilter{Status: library.LoanIssued, MemberCode: m.MemberID})
}

func (c *console) setStatus() {
	code, ok := c.ask("Member ID: ")
	if !ok {
		return
	}
	status, ok := c.ask("Status [active/suspended/graduated]: ")
	if !ok {
		return
	}
	m, err := c.mgr.SetMemberStatus(c.ctx, c.caller, code, library.MemberStatus(strings.ToLower(status)))
	if report("Changing status", err) {
		return
	}
	fmt.Printf("%s is now %s\n", m.FullName(), m.Status)
}

func (c *console) issue() {
	book, ok := c.ask("Book ID: ")
	if !ok {
		return
	}
	member, ok := c.ask("Member ID: ")
	if !ok {
		return
	}
	loan, err := c.mgr.IssueBook(c.ctx, c.caller, book, member)
	if report("Issue", err) {
		return
	}
	fmt.Printf("Book issued successfully! Transaction ID: %s, due %s\n", loan.LoanID, loan.DueAt.Local().Format("2006-01-02"))
}

func (c *console) returnBook() {
	code, ok := c.ask("Transaction ID: ")
	if !ok {
		return
	}
	ret, err := c.mgr.ReturnBook(c.ctx, c.caller, code)
	if report("Return", err) {
		return
	}
	if ret.Fine != nil {
		fmt.Printf("Book returned %d day(s) late. Fine assessed: %d.00\n", ret.OverdueDays, ret.Fine.Amount)
		return
	}
	fmt.Println("Book returned on time.")
}

func (c *console) renew() {
	code, ok := c.ask("Transaction ID: ")
	if !ok {
		return
	}
	loan, err := c.mgr.RenewLoan(c.ctx, c.caller, code)
	if report("Renewal", err) {
		return
	}
	fmt.Printf("Renewed %s, now due %s (%d renewal(s))\n", loan.LoanID, loan.DueAt.Local().Format("2006-01-02"), loan.Renewals)
}

func (c *console) check() {
	book, ok := c.ask("Book ID: ")
	if !ok {
		return
	}
	member, ok := c.ask("Member ID: ")
	if !ok {
		return
	}
	e, err := c.mgr.CheckEligibility(c.ctx, book, member)
	if report("Check", err) {
		return
	}
	if e.Eligible {
		fmt.Printf("Eligible: %s holds %d of %d\n", e.Member.FullName(), e.Held, e.Limit)
		return
	}
	fmt.Printf("Not eligible (%s): %s\n", e.Kind, e.Reason)
}

func (c *console) listLoans(f library.LoanFilter) {
	loans, err := c.mgr.ListLoans(c.ctx, f)
	if report("Listing loans", err) {
		return
	}
	if len(loans) == 0 {
		fmt.Println("No loans.")
		return
	}
	now := c.mgr.Now()
	for _, l := range loans {
		fmt.Println(library.PrettyLoan(l, now))
	}
}

func (c *console) listFines() {
	fines, err := c.mgr.ListFines(c.ctx, library.FineFilter{Status: library.FinePending})
	if report("Listing fines", err) {
		return
	}
	if len(fines) == 0 {
		fmt.Println("No pending fines.")
		return
	}
	fmt.Printf("%-5s %-15s %-12s %-25s %8s %8s\n", "ID", "Transaction", "Member", "Name", "Amount", "Paid")
	fmt.Println(strings.Repeat("-", 80))
	for _, f := range fines {
		fmt.Printf("%-5d %-15s %-12s %-25.25s %8d %8d\n", f.ID, f.LoanCode, f.MemberCode, f.MemberName, f.Amount, f.PaidAmount)
	}
}

func (c *console) payFine() {
	id, ok := c.askInt("Fine ID: ")
	if !ok {
		return
	}
	amount, ok := c.askInt("Amount: ")
	if !ok {
		return
	}
	f, err := c.mgr.PayFine(c.ctx, c.caller, id, amount)
	if report("Payment", err) {
		return
	}
	fmt.Printf("Fine %d is %s, %d.00 outstanding\n", f.ID, f.Status, f.Outstanding())
}

func (c *console) waiveFine() {
	id, ok := c.askInt("Fine ID: ")
	if !ok {
		return
	}
	f, err := c.mgr.WaiveFine(c.ctx, c.caller, id)
	if report("Waiver", err) {
		return
	}
	fmt.Printf("Fine %d waived\n", f.ID)
}

func (c *console) dashboard() {
	d, err := c.mgr.Dashboard(c.ctx)
	if report("Dashboard", err) {
		return
	}
	fmt.Printf("Books: %d  Members: %d  On loan: %d  Overdue: %d\n", d.TotalBooks, d.TotalMembers, d.Issued, d.Overdue)
	if len(d.Popular) > 0 {
		fmt.Println("Most borrowed:")
		for _, p := range d.Popular {
			fmt.Printf("  %-12s %-40.40s %d\n", p.BookID, p.Title, p.Issues)
		}
	}
}
