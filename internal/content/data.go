package content

import "github.com/hitoshi/mdbsite/internal/model"

var execMembers = []model.Member{
	{Name: "Sodbayar Ganbat", Title: "President", Image: "/static/exec/sod.jpeg"},
	{Name: "Pavithra Arun Anand", Title: "VP of Operations", Image: "/static/exec/pavithra.jpg"},
	{Name: "Rhea Minglani", Title: "VP of Operations", Image: "/static/exec/rhea.jpeg"},
	{Name: "Aiji Li", Title: "VP of Internal", Image: "/static/exec/aiji.png"},
	{Name: "Nitya Kuppireddy", Title: "VP of Internal", Image: "/static/exec/nitya.jpg"},
	{Name: "Daniel Gil", Title: "VP of Projects", Image: "/static/exec/daniel.jpg"},
	{Name: "Aarav Desai", Title: "VP of Education", Image: "/static/exec/aarav.jpg"},
	{Name: "Arnav Khinvasara", Title: "VP of Education", Image: "/static/exec/arnav.png"},
	{Name: "Emma Feth", Title: "VP of Marketing", Image: "/static/exec/emma.jpg"},
	{Name: "Sophia Clancy", Title: "VP of Marketing", Image: "/static/exec/sophia.jpg"},
}

var projectManagers = []model.Member{
	{Name: "Christy Cheung", Title: "Member", Image: "/static/project-managers/christy.jpg"},
	{Name: "Chryssa Vamvaka", Title: "Member", Image: "/static/project-managers/chryssa.jpeg"},
	{Name: "Henry Bonomolo", Title: "Member", Image: "/static/project-managers/henry.jpeg"},
	{Name: "Kaavya Mahendran", Title: "Member", Image: "/static/project-managers/kaavya.jpeg"},
}

// StaticRoster は名簿種別ごとの静的メンバーのコピーを返す。
func StaticRoster(kind model.RosterKind) []model.Member {
	var src []model.Member
	switch kind {
	case model.RosterExec:
		src = execMembers
	case model.RosterProjectManagers:
		src = projectManagers
	}
	out := make([]model.Member, len(src))
	for i, m := range src {
		m.Kind = kind
		m.Position = i + 1
		out[i] = m
	}
	return out
}

// Direction はカルーセルの流れる向き。
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// CarouselItem はカルーセルの1枚。
type CarouselItem struct {
	Type    string `json:"type"` // image または video
	Src     string `json:"src"`
	Caption string `json:"caption"`
	Order   int    `json:"order"`
}

// CarouselStrip はカルーセルの1段。
type CarouselStrip struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Direction   Direction      `json:"direction"`
	Items       []CarouselItem `json:"items"`
}

func img(src, caption string, order int) CarouselItem {
	return CarouselItem{Type: "image", Src: "/static/images/" + src, Caption: caption, Order: order}
}

func video(src, caption string, order int) CarouselItem {
	return CarouselItem{Type: "video", Src: "/static/videos/" + src, Caption: caption, Order: order}
}

var carousel = []CarouselStrip{
	{
		ID: 1, Name: "Top Strip", Description: "First carousel strip - moves right to left", Direction: DirectionLeft,
		Items: []CarouselItem{
			img("lafayette5.jpg", "Lafayette Square Contract Team", 1),
			img("edan-goat.jpeg", "PM Edan planning out our W against Codebase", 2),
			video("mdb-video.MP4", "MDB Picnic at the Glade", 3),
			img("table1.jpeg", "MDB Banquet Dinner", 4),
			img("mdb-ride.jpg", "Riding the Superman at Six Flags", 5),
			img("car2.jpeg", "MDB in Hawaii, Kevin's Car", 6),
			img("stpat.jpeg", "St. Patty's Day!", 7),
			img("wnc.jpg", "Wine and Cheese Night!", 8),
			img("noah-goat.jpeg", "Noah our beloved 2024-2025 President", 9),
			img("jefflineage5.jpg", "Jeff's Lineage - MDB Legacy", 10),
			img("newbies.jpeg", "Newbie Hike!", 11),
		},
	},
	{
		ID: 2, Name: "Middle Strip", Description: "Second carousel strip - moves left to right", Direction: DirectionRight,
		Items: []CarouselItem{
			img("mdb-goats.jpeg", "MDB LShip GOATs.", 1),
			video("mdb-goal.MP4", "GOOOOOOOOOOOOOOOOOOOOOL", 2),
			img("8ball.jpeg", "8-Ball, Jai taking the L against Riana", 3),
			img("wbn1.jpeg", "Welcome Back Night (Chryssa, Morrell, Elisa, Sarah)", 4),
			img("circuit7.jpg", "Circuit Contract Team", 5),
			img("table3.jpeg", "MDB Banquet Dinner", 6),
			img("mdb-hawaii.jpg", "MDB HAWAII RETREAT SPRING 2025", 7),
			img("car1.jpeg", "MDB in Hawaii, Preston's Car", 8),
			img("mdb5 2.jpg", "Mobile Developers of Berkeley", 9),
			img("pms2.jpg", "Project Manager Team Spring 2025", 10),
			img("6flags-selfie.jpg", "MDB Selfie @The Joker", 11),
		},
	},
	{
		ID: 3, Name: "Bottom Strip", Description: "Third carousel strip - moves right to left", Direction: DirectionLeft,
		Items: []CarouselItem{
			video("gitlit.mp4", "Git Lit? Got Lit.", 1),
			img("soccer-w.jpg", "MDB supporting our IM Soccer Team", 2),
			img("tp-over.jpg", "TP Instructor MO ending the semester with a bang", 3),
			img("wbn2.jpeg", "Welcome Back Night (Cathryn, Angie, Val, Renata, Emma, Danica)", 4),
			img("sur7.jpg", "Sur Contract Team", 5),
			img("mdb-newnite.jpg", "Newbie Night <3", 6),
			img("mdb-6flags.jpeg", "MDB @Six Flags", 7),
			img("car3.jpeg", "MDB in Hawaii, Mike's Car", 8),
			img("edan-pair.jpg", "Edan and his Little Alp", 9),
			img("table2.jpeg", "MDB Banquet Dinner", 10),
		},
	},
}

// Carousel はカルーセルの全段を返す。
func Carousel() []CarouselStrip {
	out := make([]CarouselStrip, len(carousel))
	for i, s := range carousel {
		s.Items = append([]CarouselItem(nil), s.Items...)
		out[i] = s
	}
	return out
}

// Project はクライアントプロジェクト。
type Project struct {
	Name               string
	Title              string
	Link               string
	Image              string
	Description        string
	TechStack          []string
	Purpose            string
	Date               string
	PMs                []string
	Screenshots        []string
	DisableViewProject bool
}

var projects = []Project{
	{
		Name:        "Circuit",
		Title:       "Online Speed Dating Site",
		Link:        "https://circuitspeeddating.com",
		Image:       "/static/images/circuit-logo.png",
		Description: "A full-stack web platform for virtual and in-person speed dating events. Built with React, Firebase, and Stripe, the site includes advanced matching algorithms, automated event management, and secure payment processing.",
		TechStack:   []string{"React", "Firebase", "Tailwind/CSS", "Stripe"},
		Purpose:     "Online Speed Dating",
		Date:        "Fall 2025",
		PMs:         []string{"Sodbayar", "Mike"},
		Screenshots: []string{"/static/screenshots/circuit1.png", "/static/screenshots/circuit2.png", "/static/screenshots/circuit3.png"},
	},
	{
		Name:               "Lafayette Square",
		Title:              "Internal Analytics App",
		Image:              "/static/images/lafayette-logo.png",
		Description:        "An internal tool for analyzing demographic and financial data to support impact investment decisions. Our MDB team built the web app using React, Firebase, and PyTorch, with interactive dashboards, custom reporting, and rich data visualizations.",
		TechStack:          []string{"React Native", "Pytorch", "Firebase"},
		Purpose:            "Community Impact Investment",
		Date:               "Spring 2025",
		PMs:                []string{"Lara", "Edan"},
		Screenshots:        []string{"/static/screenshots/ls1.png", "/static/screenshots/ls2.png"},
		DisableViewProject: true,
	},
	{
		Name:               "SUR",
		Title:              "RV Rental App",
		Image:              "/static/images/sur-logo.png",
		Description:        "An iOS marketplace where users can rent RVs and off-road vehicles directly from owners. Our MDB team designed and developed the app using Swift and Firebase, building features like real-time search, booking, and payment integration.",
		TechStack:          []string{"Swift", "Supabase", "Firebase"},
		Purpose:            "Accessible vehicle rentals",
		Date:               "Fall 2025",
		PMs:                []string{"Subham"},
		Screenshots:        []string{"/static/screenshots/sur1.png"},
		DisableViewProject: true,
	},
}

// Projects はクライアントプロジェクトの一覧を返す。
func Projects() []Project {
	return append([]Project(nil), projects...)
}
